package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"

	shared "github.com/fitglue/coach-sync/pkg"
	"github.com/fitglue/coach-sync/pkg/infrastructure/cache"
	infrapubsub "github.com/fitglue/coach-sync/pkg/infrastructure/pubsub"
	"github.com/fitglue/coach-sync/pkg/infrastructure/sentry"
	"github.com/fitglue/coach-sync/pkg/storage"
	fsstore "github.com/fitglue/coach-sync/pkg/storage/firestore"
	"github.com/fitglue/coach-sync/pkg/storage/notion"
	pgstore "github.com/fitglue/coach-sync/pkg/storage/postgres"
)

// Service holds initialized dependencies
type Service struct {
	Cache  shared.TokenCache
	Store  *storage.BreakerStore
	Pub    shared.Publisher
	Config *Config
	Logger *slog.Logger

	closers []func() error
}

// GetSlogHandlerOptions returns standard handler options for GCP
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Map standard keys to Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	// Check if component is overridden in the record attributes
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false // stop
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		// Create a new record with modified message
		// We use r.Time, r.Level, and r.PC to preserve original metadata
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)

		// Copy attributes from the original record
		// We do NOT remove the 'component' attribute here because it might be needed in the structured payload
		// (User explicitly said they see it in payload and presumably want to keep it there)
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger configures structured logging with Cloud Logging compatible keys
func InitLogger(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stdout, GetSlogHandlerOptions(level))
	slog.SetDefault(slog.New(&ComponentHandler{Handler: handler}))
}

// NewLogger creates a configured logger instance
func NewLogger(serviceName string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, GetSlogHandlerOptions(level))
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// NewService loads config and initializes all standard dependencies.
func NewService(ctx context.Context, serviceName string) (*Service, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewServiceWithConfig(ctx, serviceName, cfg)
}

func NewServiceWithConfig(ctx context.Context, serviceName string, cfg *Config) (*Service, error) {
	level := ParseLevel(cfg.LogLevel)
	InitLogger(level)
	logger := NewLogger(serviceName, level)
	svc := &Service{Config: cfg, Logger: logger}

	logger.Info("Initializing service", "project_id", cfg.ProjectID, "store", cfg.Store.Backend, "token_cache", cfg.TokenCache)

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		ServerName:  serviceName,
	}, logger); err != nil {
		logger.Warn("Sentry init failed", "error", err)
	}

	// Firestore is opened only when a component needs it.
	var fsClient *firestore.Client
	firestoreClient := func() (*firestore.Client, error) {
		if fsClient != nil {
			return fsClient, nil
		}
		c, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore init failed", "error", err)
			return nil, fmt.Errorf("firestore init: %w", err)
		}
		fsClient = c
		svc.closers = append(svc.closers, c.Close)
		return c, nil
	}

	// Token cache
	switch cfg.TokenCache {
	case "firestore":
		c, err := firestoreClient()
		if err != nil {
			return nil, svc.fail(err)
		}
		svc.Cache = cache.NewFirestoreCache(c, shared.CollectionTokenCache)
	default:
		bc, err := cache.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, svc.fail(fmt.Errorf("badger init: %w", err))
		}
		svc.closers = append(svc.closers, bc.Close)
		svc.Cache = bc
		if cfg.BadgerPath == "" {
			logger.Warn("Token cache: in-memory badger, tokens do not survive restarts")
		}
	}

	// Workout store
	var store storage.Store
	switch cfg.Store.Backend {
	case "firestore":
		c, err := firestoreClient()
		if err != nil {
			return nil, svc.fail(err)
		}
		store = fsstore.NewStore(fsstore.NewClient(c))
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, svc.fail(fmt.Errorf("postgres init: %w", err))
		}
		svc.closers = append(svc.closers, func() error { pool.Close(); return nil })
		pg := pgstore.NewStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, svc.fail(err)
		}
		store = pg
	default:
		client := notion.NewClient(cfg.Store.NotionSecret)
		store = notion.NewStore(client, cfg.Store.NotionWorkoutDatabaseID, cfg.Store.NotionProfileDatabaseID)
	}
	svc.Store = storage.NewBreakerStore(store, storage.BreakerConfig{Name: cfg.Store.Backend}, logger)

	// Pub/Sub
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub init failed", "error", err)
			return nil, svc.fail(fmt.Errorf("pubsub init: %w", err))
		}
		svc.closers = append(svc.closers, psClient.Close)
		svc.Pub = &infrapubsub.PubSubAdapter{Client: psClient}
		logger.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		svc.Pub = &infrapubsub.LogPublisher{Logger: logger}
		logger.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	return svc, nil
}

// Close releases clients in reverse order of creation.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) fail(err error) error {
	if cerr := s.Close(); cerr != nil {
		s.Logger.Warn("Cleanup after failed init", "error", cerr)
	}
	return err
}
