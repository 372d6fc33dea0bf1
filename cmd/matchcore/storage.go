package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tankclash/matchcore/internal/api"
	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/database"
	"github.com/tankclash/matchcore/internal/logging"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/internal/storage/gormstore"
	"github.com/tankclash/matchcore/internal/storage/influx"
	"github.com/tankclash/matchcore/internal/storage/memory"
	wsstorage "github.com/tankclash/matchcore/internal/storage/websocket"
)

const gormFlushInterval = 2 * time.Second

// openSink creates and initializes the configured score sink.
func openSink(cfg config.StorageConfig, logger *slog.Logger, level string) (storage.Sink, error) {
	sink, err := createSink(cfg, logger, logging.NewZerolog(os.Stderr, level))
	if err != nil {
		return nil, err
	}
	if err := sink.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s sink: %w", cfg.Type, err)
	}
	logger.Info("score sink ready", "type", cfg.Type)
	return sink, nil
}

func createSink(cfg config.StorageConfig, logger *slog.Logger, zlog zerolog.Logger) (storage.Sink, error) {
	switch cfg.Type {
	case "", "memory":
		inner := memory.New(cfg.Memory)
		if cfg.API.ServerURL != "" && cfg.API.APIKey != "" {
			return api.NewUploadingSink(inner, api.New(cfg.API.ServerURL, cfg.API.APIKey)), nil
		}
		return inner, nil

	case "sqlite":
		sink, err := gormstore.NewSQLite(cfg.SQLite, logger, zlog)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite sink: %w", err)
		}
		return sink, nil

	case "postgres":
		db, err := database.OpenPostgres(cfg.Postgres, zlog)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return gormstore.New(gormstore.Dependencies{
			DB:            db,
			Logger:        logger,
			DBLogger:      zlog,
			FlushInterval: gormFlushInterval,
		}), nil

	case "influx":
		return influx.New(cfg.Influx, zlog), nil

	case "websocket":
		return wsstorage.New(cfg.WebSocket, logger), nil

	case "api":
		if cfg.API.ServerURL == "" {
			return nil, fmt.Errorf("api sink needs storage.api.serverUrl")
		}
		return api.NewSink(api.New(cfg.API.ServerURL, cfg.API.APIKey)), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
