// Package firestore stores workouts and athlete profiles in Cloud Firestore.
package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/fitglue/coach-sync/pkg"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Workouts are sub-collections of Users: users/{uid}/workouts/{provider}_{id}
func (c *Client) Workouts(userID string) *Collection[WorkoutRecord] {
	return &Collection[WorkoutRecord]{
		Ref:           c.fs.Collection(shared.CollectionUsers).Doc(userID).Collection(shared.CollectionWorkouts),
		ToFirestore:   WorkoutToFirestore,
		FromFirestore: FirestoreToWorkout,
	}
}

// AthleteProfiles is a top-level collection: athlete_profiles/{uid}
func (c *Client) AthleteProfiles() *Collection[ProfileRecord] {
	return &Collection[ProfileRecord]{
		Ref:           c.fs.Collection(shared.CollectionAthleteProfiles),
		ToFirestore:   ProfileToFirestore,
		FromFirestore: FirestoreToProfile,
	}
}
