package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
	"github.com/fitglue/coach-sync/pkg/storage"
)

// ErrUpsertFailed means a record could not be written within the retry bound.
var ErrUpsertFailed = errors.New("upsert failed")

// UpsertError is the per-record failure after retries ran out or a permanent
// store error.
type UpsertError struct {
	ExternalID string
	Attempts   int
	Err        error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert %s: failed after %d attempt(s): %v", e.ExternalID, e.Attempts, e.Err)
}

func (e *UpsertError) Unwrap() []error {
	return []error{ErrUpsertFailed, e.Err}
}

// State is a step of a sync run.
type State string

const (
	StateIdle           State = "idle"
	StateTokenReady     State = "token_ready"
	StateFetching       State = "fetching"
	StateMapping        State = "mapping"
	StateEstimating     State = "estimating"
	StateUpserting      State = "upserting"
	StateDone           State = "done"
	StatePartialFailure State = "partial_failure"
	StateFailed         State = "failed"
)

// Action is the per-record result. The store's actions plus failed.
type Action string

const (
	ActionCreated Action = Action(storage.ActionCreated)
	ActionUpdated Action = Action(storage.ActionUpdated)
	ActionSkipped Action = Action(storage.ActionSkipped)
	ActionFailed  Action = "failed"
)

// Outcome is what happened to one activity during a run.
type Outcome struct {
	ExternalID string `json:"external_id"`
	Action     Action `json:"action"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Succeeded counts records that reached the store or were already current.
func (c Counts) Succeeded() int {
	return c.Created + c.Updated + c.Skipped
}

// Report is the structured result of one run.
type Report struct {
	RunID      string            `json:"run_id"`
	Provider   activity.Provider `json:"provider"`
	UserID     string            `json:"user_id"`
	Status     State             `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Counts     Counts            `json:"counts"`
	Outcomes   []Outcome         `json:"outcomes"`
	FetchError string            `json:"fetch_error,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (r *Report) record(o Outcome) {
	if o.Err != nil && o.Error == "" {
		o.Error = o.Err.Error()
	}
	switch o.Action {
	case ActionCreated:
		r.Counts.Created++
	case ActionUpdated:
		r.Counts.Updated++
	case ActionSkipped:
		r.Counts.Skipped++
	case ActionFailed:
		r.Counts.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// computeStatus determines the terminal state from the outcomes.
// Skipped records count as success.
func computeStatus(r *Report, aborted bool) State {
	if r.Counts.Failed > 0 || r.FetchError != "" || aborted {
		return StatePartialFailure
	}
	return StateDone
}
