package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/coordinator"
	"github.com/fitglue/coach-sync/pkg/infrastructure/pubsub"
)

// Dispatcher hands a verified sync request to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, t coordinator.Trigger) error
}

// Runner executes one sync run. *coordinator.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, t coordinator.Trigger) (*coordinator.Report, error)
}

// PubSubDispatcher publishes the request for the sync worker.
type PubSubDispatcher struct {
	Publisher shared.Publisher
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, t coordinator.Trigger) error {
	e, err := pubsub.NewCloudEvent(shared.CloudEventSource, shared.EventTypeSyncRequested, t)
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	if _, err := d.Publisher.PublishCloudEvent(ctx, shared.TopicSyncRequests, e); err != nil {
		return fmt.Errorf("publish sync request: %w", err)
	}
	return nil
}

// InlineDispatcher runs the request in-process, in the background, so the
// webhook can be acknowledged straight away. Runs for the same account take
// turns: a store's look-up-then-create is not atomic, and two overlapping runs
// for one activity would both create it.
type InlineDispatcher struct {
	Runner  Runner
	Timeout time.Duration
	Logger  *slog.Logger

	wg    sync.WaitGroup
	turns accountLocks
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, t coordinator.Trigger) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		unlock := d.turns.lock(string(t.Provider) + ":" + t.UserID)
		defer unlock()
		if _, err := d.Runner.Run(runCtx, t); err != nil {
			logger.Warn("Inline sync finished with error", "provider", t.Provider, "user_id", t.UserID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// accountLocks hands out one mutex per account, dropped once nobody waits on it.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sync.Mutex
	waiters int
}

func (a *accountLocks) lock(key string) (unlock func()) {
	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]*accountLock)
	}
	l, ok := a.locks[key]
	if !ok {
		l = &accountLock{}
		a.locks[key] = l
	}
	l.waiters++
	a.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		a.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(a.locks, key)
		}
		a.mu.Unlock()
	}
}
