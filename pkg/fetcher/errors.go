package fetcher

import (
	"errors"
	"fmt"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
)

var (
	// ErrFetchExhausted means a page could not be fetched within the attempt bound.
	ErrFetchExhausted = errors.New("fetch exhausted")

	// ErrUnsupported means the provider lacks the requested capability.
	ErrUnsupported = errors.New("operation not supported by provider")

	// ErrBadRequest marks a request the client refused to send; retrying cannot help.
	ErrBadRequest = errors.New("bad provider request")
)

// ExhaustedError reports the page that failed. Pages before it were already
// delivered through the stream.
type ExhaustedError struct {
	Provider activity.Provider
	Page     int
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s page %d: gave up after %d attempt(s): %v", e.Provider, e.Page, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrFetchExhausted, e.Err}
}
