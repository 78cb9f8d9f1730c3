package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fitglue/coach-sync/pkg/app"
	"github.com/fitglue/coach-sync/pkg/bootstrap"
	"github.com/fitglue/coach-sync/pkg/infrastructure/sentry"
	"github.com/fitglue/coach-sync/pkg/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and manual sync API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := bootstrap.NewService(ctx, "coach-sync")
			if err != nil {
				return err
			}
			defer svc.Close()
			defer sentry.Flush(2 * time.Second)

			a, err := app.New(svc)
			if err != nil {
				return err
			}

			if port == 0 {
				port = svc.Config.Port
			}
			dispatcher := a.Dispatcher()
			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           a.Router(dispatcher),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				svc.Logger.Info("HTTP server listening", "port", port)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				svc.Logger.Info("Shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				svc.Logger.Warn("HTTP shutdown incomplete", "error", err)
			}
			if inline, ok := dispatcher.(*server.InlineDispatcher); ok {
				inline.Wait()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (defaults to PORT or 8080)")
	return cmd
}
