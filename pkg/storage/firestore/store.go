package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fitglue/coach-sync/pkg/domain/metrics"
	"github.com/fitglue/coach-sync/pkg/storage"
)

// Store implements storage.Store on top of Firestore.
type Store struct {
	client *Client
	now    func() time.Time
}

func NewStore(client *Client) *Store {
	return &Store{client: client, now: time.Now}
}

func WorkoutDocID(provider, externalID string) string {
	return provider + "_" + externalID
}

// Upsert compares and writes inside one transaction, so two concurrent runs
// for the same activity cannot both create it.
func (s *Store) Upsert(ctx context.Context, w *storage.Workout) (storage.Action, error) {
	provider := string(w.Provider)
	ref := s.client.Workouts(w.UserID).Doc(WorkoutDocID(provider, w.Activity.ExternalID))
	owned := w.Owned()

	var action storage.Action
	err := s.client.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := ref.GetTx(tx)
		if status.Code(err) == codes.NotFound {
			action = storage.ActionCreated
			return ref.SetTx(tx, &WorkoutRecord{
				UserID:     w.UserID,
				Provider:   provider,
				ExternalID: w.Activity.ExternalID,
				Name:       w.Activity.Name,
				Owned:      owned,
				UpdatedAt:  s.now().UTC(),
			})
		}
		if err != nil {
			return err
		}
		next := owned.Over(existing.Owned)
		if existing.Owned.Equal(next) {
			action = storage.ActionSkipped
			return nil
		}
		action = storage.ActionUpdated
		updates := OwnedToFirestore(next)
		updates["updated_at"] = s.now().UTC()
		return ref.MergeTx(tx, updates)
	})
	if err != nil {
		return "", classify(fmt.Errorf("upsert workout %s: %w", ref.ID(), err))
	}
	return action, nil
}

func (s *Store) AthleteProfile(ctx context.Context, userID string) (metrics.AthleteProfile, error) {
	rec, err := s.client.AthleteProfiles().Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return metrics.AthleteProfile{}, storage.ErrProfileNotFound
	}
	if err != nil {
		return metrics.AthleteProfile{}, classify(fmt.Errorf("get athlete profile: %w", err))
	}
	return metrics.AthleteProfile{FTP: rec.FTPWatts, MaxHR: rec.MaxHR, RestHR: rec.RestingHR}, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return storage.Transient(err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return storage.Transient(err)
	}
	return err
}
