package stravawebhook

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/fitglue/coach-sync/pkg/app"
	"github.com/fitglue/coach-sync/pkg/bootstrap"
	"github.com/fitglue/coach-sync/pkg/server"
)

var (
	srv     *server.Server
	srvOnce sync.Once
	srvErr  error
)

func init() {
	functions.HTTP("StravaWebhook", StravaWebhook)
}

func initServer(ctx context.Context) (*server.Server, error) {
	srvOnce.Do(func() {
		svc, err := bootstrap.NewService(ctx, "strava-webhook")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			srvErr = err
			return
		}
		a, err := app.New(svc)
		if err != nil {
			slog.Error("Failed to wire app", "error", err)
			srvErr = err
			return
		}
		// Functions are short-lived, so syncs always go through Pub/Sub.
		srv = a.Server(&server.PubSubDispatcher{Publisher: svc.Pub})
	})
	return srv, srvErr
}

// StravaWebhook is the HTTP entry point for Strava push subscriptions.
func StravaWebhook(w http.ResponseWriter, r *http.Request) {
	s, err := initServer(context.WithoutCancel(r.Context()))
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.StravaHandshake(w, r)
	case http.MethodPost:
		s.StravaEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
