package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/relay"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

const shutdownTimeout = 10 * time.Second

func runRelay() error {
	rt, err := setup("")
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := config.GetRelayConfig()
	if cfg.Secret == "" {
		return errors.New("relay.secret is not configured")
	}

	app := fx.New(
		fx.Supply(rt.logger(), cfg),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		fx.Provide(relay.NewServer, newHTTPServer),
		fx.Invoke(serveRelay),
	)
	app.Run()
	return app.Err()
}

func newHTTPServer(cfg config.RelayConfig, srv *relay.Server) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func serveRelay(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("relay starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("relay failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down relay")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("relay shutdown failed: %w", err)
			}
			logger.Info("relay stopped gracefully")
			return nil
		},
	})
}
