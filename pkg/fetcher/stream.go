package fetcher

import (
	"context"
	"log/slog"

	"github.com/fitglue/coach-sync/pkg/domain/activity"
)

// Stream yields the activities of one listing. It is single use: once Next
// returns false it stays exhausted, and a fresh FetchRecent re-fetches.
type Stream struct {
	f        *Fetcher
	provider activity.Provider
	lister   Lister
	query    Query
	logger   *slog.Logger

	buf     []activity.RawActivity
	current activity.RawActivity
	cursor  string
	pages   int
	done    bool
	err     error
}

// Next advances to the next activity, fetching another page when the buffer is empty.
func (s *Stream) Next(ctx context.Context) bool {
	for len(s.buf) == 0 {
		if s.done {
			return false
		}
		if s.pages >= s.f.opts.MaxPages {
			s.logger.Warn("Page cap reached, stopping listing", "pages", s.pages)
			s.done = true
			return false
		}
		s.fetchPage(ctx)
	}

	s.current, s.buf = s.buf[0], s.buf[1:]
	return true
}

// Activity returns the activity Next advanced to.
func (s *Stream) Activity() activity.RawActivity {
	return s.current
}

// Err returns the error that ended the stream early, nil if it ran to completion.
func (s *Stream) Err() error {
	return s.err
}

// Pages is the number of pages fetched so far.
func (s *Stream) Pages() int {
	return s.pages
}

func (s *Stream) fetchPage(ctx context.Context) {
	pageNo := s.pages + 1

	var page *Page
	attempts, err := s.f.retry(ctx, s.provider, func(ctx context.Context) error {
		var err error
		page, err = s.lister.ListPage(ctx, s.query, s.cursor)
		return err
	})
	if err != nil {
		s.err = &ExhaustedError{Provider: s.provider, Page: pageNo, Attempts: attempts, Err: err}
		s.done = true
		return
	}

	s.pages = pageNo
	s.buf = page.Activities
	s.cursor = page.Next
	if page.Next == "" {
		s.done = true
	}
	s.logger.Debug("Fetched page", "page", pageNo, "activities", len(page.Activities), "more", !s.done)
}
