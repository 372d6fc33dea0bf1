// Package gormstore implements storage.Sink on top of GORM. Kills and final
// scores are queued and written in batches by a background flush loop.
package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tankclash/matchcore/internal/database"
	"github.com/tankclash/matchcore/internal/model"
	"github.com/tankclash/matchcore/internal/queue"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/pkg/core"
)

const (
	defaultFlushInterval = 2 * time.Second
	queueLimit           = 10000
)

// Dependencies holds all dependencies for the GORM sink.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
	FlushInterval time.Duration
}

// Sink implements storage.Sink using GORM with queue-based batch writes.
type Sink struct {
	deps Dependencies
	log  *slog.Logger

	kills  *queue.Queue[model.KillRecord]
	finals *queue.Queue[model.FinalScore]

	matchRef atomic.Uint64
	mu       sync.Mutex
	matchID  string

	stopChan chan struct{}
	wg       sync.WaitGroup
	flushMu  sync.Mutex
}

var _ storage.Sink = (*Sink)(nil)

// New creates a new GORM sink.
func New(deps Dependencies) *Sink {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		deps:   deps,
		log:    log.With("component", "gormstore"),
		kills:  queue.New[model.KillRecord](queueLimit),
		finals: queue.New[model.FinalScore](queueLimit),
	}
}

// Init migrates the schema and starts the flush loop.
func (s *Sink) Init() error {
	if s.deps.DB == nil {
		return errors.New("gormstore: no database")
	}
	if err := database.Setup(s.deps.DB, s.deps.DBLogger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.flushLoop()
	return nil
}

// Close stops the flush loop and writes whatever is still queued.
func (s *Sink) Close() error {
	if s.stopChan == nil {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	s.stopChan = nil
	return s.Flush()
}

// StartMatch gets or creates the match row. A second participant starting
// the same match merges its roster into the stored one.
func (s *Sink) StartMatch(match *core.MatchState, participants []core.Participant) error {
	row, err := model.MatchFromCore(*match, participants)
	if err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}

	db := s.deps.DB
	var existing model.Match
	err = db.Where("match_id = ?", match.ID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}
		existing = row
	case err != nil:
		return fmt.Errorf("failed to find match %s: %w", match.ID, err)
	default:
		merged, err := mergeRoster(&existing, participants)
		if err != nil {
			return err
		}
		if err := db.Model(&existing).Update("roster", merged).Error; err != nil {
			return fmt.Errorf("failed to update roster: %w", err)
		}
	}

	s.mu.Lock()
	s.matchID = match.ID
	s.mu.Unlock()
	s.matchRef.Store(uint64(existing.ID))
	return nil
}

func mergeRoster(m *model.Match, participants []core.Participant) (datatypes.JSON, error) {
	current, err := m.Participants()
	if err != nil {
		return nil, fmt.Errorf("failed to decode roster: %w", err)
	}
	byID := make(map[int]int, len(current))
	for i, p := range current {
		byID[p.ID] = i
	}
	for _, p := range participants {
		if i, ok := byID[p.ID]; ok {
			current[i] = p
			continue
		}
		byID[p.ID] = len(current)
		current = append(current, p)
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode roster: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func (s *Sink) RecordKill(k *core.KillRecord) error {
	if s.matchRef.Load() == 0 {
		return storage.ErrNotStarted
	}
	s.kills.Push(model.KillRecordFromCore(*k))
	return nil
}

func (s *Sink) SubmitFinalScore(fs *core.FinalScore) error {
	if s.matchRef.Load() == 0 {
		return storage.ErrNotStarted
	}
	s.finals.Push(model.FinalScoreFromCore(*fs))
	return nil
}

// EndMatch flushes the queues and stamps the end time once.
func (s *Sink) EndMatch() error {
	ref := s.matchRef.Load()
	if ref == 0 {
		return storage.ErrNotStarted
	}
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	matchID := s.matchID
	s.mu.Unlock()

	var row model.Match
	if err := s.deps.DB.First(&row, ref).Error; err != nil {
		return fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	if row.EndedAt != nil {
		return nil
	}
	now := time.Now()
	return s.deps.DB.Model(&row).Updates(map[string]any{
		"ended_at": now,
		"duration": now.Sub(row.StartedAt).Seconds(),
	}).Error
}

// Flush writes all queued records.
func (s *Sink) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	ref := uint(s.matchRef.Load())
	return errors.Join(
		writeQueue(s.deps.DB, s.kills, "kill records", s.log, func(items []model.KillRecord) {
			for i := range items {
				items[i].MatchRef = ref
			}
		}),
		writeQueue(s.deps.DB, s.finals, "final scores", s.log, func(items []model.FinalScore) {
			for i := range items {
				items[i].MatchRef = ref
			}
		}),
	)
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			_ = s.Flush()
		}
	}
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed batches go back to the front of the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain()
	if prepare != nil {
		prepare(items)
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&items, 500).Error
	})
	if err != nil {
		log.Error("Error creating records", "kind", name, "count", len(items), "error", err)
		q.Requeue(items...)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	log.Debug("Wrote records", "kind", name, "count", len(items))
	return nil
}
