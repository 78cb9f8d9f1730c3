package notion

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fitglue/coach-sync/pkg/domain/metrics"
	"github.com/fitglue/coach-sync/pkg/storage"
)

// Workout database property names.
const (
	propName          = "Name"
	propID            = "Id"
	propSource        = "Source"
	propDate          = "Date"
	propDayOfWeek     = "Day of week"
	propType          = "Type"
	propDuration      = "Duration [s]"
	propMovingTime    = "Moving Time [s]"
	propAvgHR         = "Average Heartrate"
	propMaxHR         = "Max Heartrate"
	propKilojoules    = "Kilojoules"
	propAvgWatts      = "Average Watts"
	propWeightedWatts = "Weighted Average Watts"
	propIF            = "IF"
	propTSS           = "TSS"
	propLoadSource    = "Load Source"
	propHRDrift       = "HR drift [%]"
	propVO2Max        = "VO2 MAX [min]"
)

// Athlete profile database property names.
const (
	propFTP    = "FTP Watts"
	propProfMx = "Max HR"
	propRestHR = "Resting HR"
)

// Store keeps one page per workout, keyed by the numeric provider ID plus the
// Source select. Name, Notes and any other column belong to the user.
type Store struct {
	client            *Client
	workoutDatabaseID string
	profileDatabaseID string
}

func NewStore(client *Client, workoutDatabaseID, profileDatabaseID string) *Store {
	return &Store{client: client, workoutDatabaseID: workoutDatabaseID, profileDatabaseID: profileDatabaseID}
}

func (s *Store) Upsert(ctx context.Context, w *storage.Workout) (storage.Action, error) {
	id, err := strconv.ParseInt(w.Activity.ExternalID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("notion: external id %q is not numeric", w.Activity.ExternalID)
	}

	res, err := s.client.QueryDatabase(ctx, s.workoutDatabaseID, QueryRequest{
		Filter: map[string]any{"and": []any{
			map[string]any{"property": propID, "number": map[string]any{"equals": id}},
			map[string]any{"property": propSource, "select": map[string]any{"equals": string(w.Provider)}},
		}},
		PageSize: 1,
	})
	if err != nil {
		return "", err
	}

	owned := w.Owned()
	if len(res.Results) == 0 {
		props := ownedProperties(owned)
		props[propName] = titleProp(nameOf(w))
		props[propID] = numberProp(float64(id))
		props[propSource] = selectProp(string(w.Provider))
		if _, err := s.client.CreatePage(ctx, s.workoutDatabaseID, props); err != nil {
			return "", err
		}
		return storage.ActionCreated, nil
	}

	page := res.Results[0]
	existing := ownedFromPage(page)
	owned = owned.Over(existing)
	if existing.Equal(owned) {
		return storage.ActionSkipped, nil
	}
	if _, err := s.client.UpdatePage(ctx, page.ID, ownedProperties(owned)); err != nil {
		return "", err
	}
	return storage.ActionUpdated, nil
}

// AthleteProfile reads the most recent row of the profile database. The
// database belongs to a single athlete, so userID is not used as a filter.
func (s *Store) AthleteProfile(ctx context.Context, _ string) (metrics.AthleteProfile, error) {
	res, err := s.client.QueryDatabase(ctx, s.profileDatabaseID, QueryRequest{
		Sorts:    []Sort{{Property: propDate, Direction: "descending"}},
		PageSize: 1,
	})
	if err != nil {
		return metrics.AthleteProfile{}, err
	}
	if len(res.Results) == 0 {
		return metrics.AthleteProfile{}, storage.ErrProfileNotFound
	}

	props := res.Results[0].Properties
	return metrics.AthleteProfile{
		FTP:    numberOr0(props[propFTP]),
		MaxHR:  numberOr0(props[propProfMx]),
		RestHR: numberOr0(props[propRestHR]),
	}, nil
}

func nameOf(w *storage.Workout) string {
	if w.Activity.Name != "" {
		return w.Activity.Name
	}
	return string(w.Activity.ActivityType)
}

// ownedProperties renders every owned field, with explicit nulls so a reading
// that disappeared upstream is cleared rather than left stale.
func ownedProperties(f storage.OwnedFields) map[string]any {
	return map[string]any{
		propDate:          map[string]any{"date": map[string]string{"start": f.StartedAt.UTC().Format(time.RFC3339)}},
		propDayOfWeek:     selectProp(f.StartedAt.UTC().Weekday().String()),
		propType:          richTextProp(f.ActivityType),
		propDuration:      numberProp(float64(f.DurationS)),
		propMovingTime:    optionalNumber(positiveInt(f.MovingTimeS)),
		propAvgHR:         optionalNumber(f.AvgHR),
		propMaxHR:         optionalNumber(f.MaxHR),
		propKilojoules:    optionalNumber(f.Kilojoules),
		propAvgWatts:      optionalNumber(f.AvgPower),
		propWeightedWatts: optionalNumber(f.WeightedPower),
		propIF:            optionalNumber(f.IntensityFactor),
		propTSS:           optionalNumber(f.TrainingStressScore),
		propLoadSource:    selectProp(f.LoadSource),
		propHRDrift:       optionalNumber(f.HRDriftPct),
		propVO2Max:        optionalNumber(f.VO2MaxMinutes),
	}
}

func ownedFromPage(p Page) storage.OwnedFields {
	props := p.Properties
	f := storage.OwnedFields{
		ActivityType:        props[propType].Text(),
		DurationS:           int(math.Round(numberOr0(props[propDuration]))),
		MovingTimeS:         int(math.Round(numberOr0(props[propMovingTime]))),
		AvgHR:               props[propAvgHR].Number,
		MaxHR:               props[propMaxHR].Number,
		Kilojoules:          props[propKilojoules].Number,
		AvgPower:            props[propAvgWatts].Number,
		WeightedPower:       props[propWeightedWatts].Number,
		IntensityFactor:     props[propIF].Number,
		TrainingStressScore: props[propTSS].Number,
		HRDriftPct:          props[propHRDrift].Number,
		VO2MaxMinutes:       props[propVO2Max].Number,
	}
	if sel := props[propLoadSource].Select; sel != nil {
		f.LoadSource = sel.Name
	}
	if d := props[propDate].Date; d != nil {
		if t, err := time.Parse(time.RFC3339, d.Start); err == nil {
			f.StartedAt = t.UTC()
		}
	}
	return f
}

func numberProp(v float64) map[string]any {
	return map[string]any{"number": v}
}

func optionalNumber(v *float64) map[string]any {
	if v == nil {
		return map[string]any{"number": nil}
	}
	return numberProp(*v)
}

func positiveInt(v int) *float64 {
	if v <= 0 {
		return nil
	}
	f := float64(v)
	return &f
}

func numberOr0(p Property) float64 {
	if p.Number == nil {
		return 0
	}
	return *p.Number
}

func selectProp(name string) map[string]any {
	if name == "" {
		return map[string]any{"select": nil}
	}
	return map[string]any{"select": map[string]string{"name": name}}
}

func richTextProp(s string) map[string]any {
	return map[string]any{"rich_text": []any{map[string]any{"text": map[string]string{"content": s}}}}
}

func titleProp(s string) map[string]any {
	return map[string]any{"title": []any{map[string]any{"text": map[string]string{"content": s}}}}
}
