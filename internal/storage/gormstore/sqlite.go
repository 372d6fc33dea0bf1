package gormstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/database"
)

// SQLiteSink wraps the GORM sink for SQLite. With no Path the database lives
// in memory and is dumped to DumpPath every DumpInterval via VACUUM INTO.
type SQLiteSink struct {
	*Sink
	cfg      config.SQLiteConfig
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSQLite opens the SQLite database and builds the sink around it.
func NewSQLite(cfg config.SQLiteConfig, logger *slog.Logger, dbLog zerolog.Logger) (*SQLiteSink, error) {
	db, err := database.OpenSQLite(cfg.Path, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}
	return &SQLiteSink{
		Sink: New(Dependencies{DB: db, Logger: logger, DBLogger: dbLog}),
		cfg:  cfg,
	}, nil
}

// Init initializes the embedded sink and starts the dump goroutine.
func (s *SQLiteSink) Init() error {
	if err := s.Sink.Init(); err != nil {
		return err
	}
	if s.cfg.Path == "" && s.cfg.DumpPath != "" && s.cfg.DumpInterval > 0 {
		s.stopChan = make(chan struct{})
		s.wg.Add(1)
		go s.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine, closes the embedded sink and writes a
// last dump.
func (s *SQLiteSink) Close() error {
	if s.stopChan != nil {
		close(s.stopChan)
		s.wg.Wait()
		s.stopChan = nil
	}
	if err := s.Sink.Close(); err != nil {
		return err
	}
	if s.cfg.Path == "" && s.cfg.DumpPath != "" {
		if _, err := database.DumpMemoryDBToDisk(s.deps.DB, s.cfg.DumpPath); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteSink) dumpLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			took, err := database.DumpMemoryDBToDisk(s.deps.DB, s.cfg.DumpPath)
			if err != nil {
				s.log.Error("Error dumping to disk", "error", err)
				continue
			}
			s.log.Debug("Dumped to disk", "duration", took)
		}
	}
}
