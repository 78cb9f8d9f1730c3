package framework

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/fitglue/coach-sync/pkg/bootstrap"
	"github.com/fitglue/coach-sync/pkg/infrastructure/pubsub"
	"github.com/fitglue/coach-sync/pkg/infrastructure/sentry"
)

const pubsubPublishedType = "google.cloud.pubsub.topic.v1.messagePublished"

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a handler with execution logging and error capture.
// Pub/Sub triggers that carry a published CloudEvent are unwrapped so the
// handler sees the inner event.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) (err error) {
		triggerType := "pubsub"
		if e.Type() == "google.cloud.functions.http" {
			triggerType = "http"
		}

		if e.Type() == pubsubPublishedType {
			if inner, uerr := pubsub.Unwrap(e); uerr == nil {
				e = inner
			}
		}

		base := slog.Default()
		if svc != nil && svc.Logger != nil {
			base = svc.Logger
		}
		execID := uuid.NewString()
		logger := base.With("service", serviceName, "execution_id", execID, "trigger", triggerType)
		if userID := extractUserID(e); userID != "" {
			logger = logger.With("user_id", userID)
		}

		defer sentry.RecoverAndCapture(logger)

		started := time.Now()
		logger.Info("Function started", "event_type", e.Type(), "event_id", e.ID())

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}

		outputs, handlerErr := handler(ctx, e, fwCtx)
		if handlerErr != nil {
			logger.Error("Function failed", "error", handlerErr, "duration_ms", time.Since(started).Milliseconds())
			sentry.CaptureException(handlerErr, map[string]string{
				"service":      serviceName,
				"execution_id": execID,
			}, logger)
			return handlerErr
		}

		attrs := []any{"duration_ms", time.Since(started).Milliseconds()}
		if outputsMap, ok := outputs.(map[string]interface{}); ok {
			if s, ok := outputsMap["status"].(string); ok {
				attrs = append(attrs, "status", s)
			}
		}
		logger.Info("Function completed successfully", attrs...)
		return nil
	}
}

// extractUserID reads user_id from a JSON event payload, if there is one.
func extractUserID(e event.Event) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(e.Data(), &payload); err != nil {
		return ""
	}
	if uid, ok := payload["user_id"].(string); ok {
		return uid
	}
	if uid, ok := payload["userId"].(string); ok {
		return uid
	}
	return ""
}
