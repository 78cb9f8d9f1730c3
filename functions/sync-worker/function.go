package syncworker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/app"
	"github.com/fitglue/coach-sync/pkg/bootstrap"
	"github.com/fitglue/coach-sync/pkg/coordinator"
	"github.com/fitglue/coach-sync/pkg/framework"
	"github.com/fitglue/coach-sync/pkg/infrastructure/oauth"
)

var (
	application *app.App
	appOnce     sync.Once
	appErr      error
)

func init() {
	functions.CloudEvent("SyncWorker", SyncWorker)
}

func initApp(ctx context.Context) (*app.App, error) {
	appOnce.Do(func() {
		svc, err := bootstrap.NewService(ctx, "sync-worker")
		if err != nil {
			appErr = err
			return
		}
		application, appErr = app.New(svc)
	})
	return application, appErr
}

// SyncWorker consumes sync requests published by the webhook.
func SyncWorker(ctx context.Context, e cloudevents.Event) error {
	a, err := initApp(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return framework.WrapCloudEvent("sync-worker", a.Service, newHandler(a.Coordinator))(ctx, e)
}

type runner interface {
	Run(ctx context.Context, t coordinator.Trigger) (*coordinator.Report, error)
}

func newHandler(r runner) framework.HandlerFunc {
	return func(ctx context.Context, e cloudevents.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
		if e.Type() != shared.EventTypeSyncRequested {
			fwCtx.Logger.Warn("Ignoring unexpected event type", "type", e.Type())
			return map[string]interface{}{"status": "ignored"}, nil
		}

		var t coordinator.Trigger
		if err := e.DataAs(&t); err != nil {
			// Redelivery cannot fix a bad payload.
			fwCtx.Logger.Error("Undecodable sync request", "error", err)
			return map[string]interface{}{"status": "ignored"}, nil
		}
		if t.Provider == "" || t.UserID == "" {
			fwCtx.Logger.Error("Sync request missing provider or user")
			return map[string]interface{}{"status": "ignored"}, nil
		}

		report, err := r.Run(ctx, t)
		if report == nil {
			return nil, err
		}
		out := map[string]interface{}{
			"status":    string(report.Status),
			"run_id":    report.RunID,
			"succeeded": report.Counts.Succeeded(),
			"failed":    report.Counts.Failed,
		}
		// Only a failed run is handed back for redelivery, and only when a
		// later attempt can succeed.
		if report.Status == coordinator.StateFailed {
			if permanent(err) {
				fwCtx.Logger.Warn("Sync cannot succeed until the user authorizes again, acknowledging", "provider", t.Provider, "user_id", t.UserID, "error", err)
				out["status"] = "unauthorized"
				return out, nil
			}
			return out, err
		}
		return out, nil
	}
}

// permanent reports a failure redelivery cannot fix: there is no refresh
// token on record for the account.
func permanent(err error) bool {
	return errors.Is(err, oauth.ErrTokenUnavailable) && !errors.Is(err, oauth.ErrTokenRefreshFailed)
}
