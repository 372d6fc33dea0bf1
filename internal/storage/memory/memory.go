// Package memory keeps match results in memory and exports them as JSON.
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/pkg/core"
)

// MatchExport is the root JSON structure of an exported match.
type MatchExport struct {
	MatchID         string             `json:"matchId"`
	StartedAt       time.Time          `json:"startedAt"`
	EndedAt         time.Time          `json:"endedAt"`
	DurationSeconds float64            `json:"durationSeconds"`
	Participants    []core.Participant `json:"participants"`
	FinalScores     []core.FinalScore  `json:"finalScores"`
	Kills           []core.KillRecord  `json:"kills"`
}

// Sink stores match results in memory and exports them to JSON.
type Sink struct {
	cfg config.MemoryConfig

	match        *core.MatchState
	participants map[int]core.Participant
	kills        []core.KillRecord
	scores       map[int]core.FinalScore

	lastExportPath string
	mu             sync.RWMutex
}

var _ storage.Sink = (*Sink)(nil)

// New creates a new memory sink
func New(cfg config.MemoryConfig) *Sink {
	return &Sink{
		cfg:          cfg,
		participants: make(map[int]core.Participant),
		scores:       make(map[int]core.FinalScore),
	}
}

func (s *Sink) Init() error {
	return nil
}

func (s *Sink) Close() error {
	return nil
}

// StartMatch begins recording a match. Starting the match already being
// recorded only merges the roster.
func (s *Sink) StartMatch(match *core.MatchState, participants []core.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match == nil || s.match.ID != match.ID {
		m := *match
		s.match = &m
		s.participants = make(map[int]core.Participant)
		s.kills = nil
		s.scores = make(map[int]core.FinalScore)
		s.lastExportPath = ""
	}
	for _, p := range participants {
		s.participants[p.ID] = p
	}
	return nil
}

func (s *Sink) RecordKill(k *core.KillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match == nil {
		return storage.ErrNotStarted
	}
	s.kills = append(s.kills, *k)
	return nil
}

// SubmitFinalScore keeps the latest score per participant.
func (s *Sink) SubmitFinalScore(fs *core.FinalScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match == nil {
		return storage.ErrNotStarted
	}
	s.scores[fs.ParticipantID] = *fs
	return nil
}

// EndMatch exports the match when an output directory is configured.
func (s *Sink) EndMatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match == nil {
		return storage.ErrNotStarted
	}
	if !s.match.Ended {
		s.match.Ended = true
		s.match.EndedAt = time.Now()
	}
	if s.cfg.OutputDir == "" {
		return nil
	}
	return s.exportJSON()
}

// Export builds the export document of the current match.
func (s *Sink) Export() MatchExport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildExport()
}

// GetExportedFilePath returns the file written by the last EndMatch.
func (s *Sink) GetExportedFilePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastExportPath
}

func (s *Sink) buildExport() MatchExport {
	export := MatchExport{
		Participants: make([]core.Participant, 0, len(s.participants)),
		FinalScores:  make([]core.FinalScore, 0, len(s.scores)),
		Kills:        append([]core.KillRecord{}, s.kills...),
	}
	if s.match != nil {
		export.MatchID = s.match.ID
		export.StartedAt = s.match.StartedAt
		export.EndedAt = s.match.EndedAt
		if !s.match.EndedAt.IsZero() {
			export.DurationSeconds = s.match.EndedAt.Sub(s.match.StartedAt).Seconds()
		}
	}
	for _, id := range slices.Sorted(maps.Keys(s.participants)) {
		export.Participants = append(export.Participants, s.participants[id])
	}
	for _, id := range slices.Sorted(maps.Keys(s.scores)) {
		export.FinalScores = append(export.FinalScores, s.scores[id])
	}
	return export
}

func (s *Sink) exportJSON() error {
	export := s.buildExport()

	ext := "json"
	if s.cfg.CompressOutput {
		ext = "json.gz"
	}
	filename := fmt.Sprintf("match_%s_%s.%s", export.MatchID, export.StartedAt.UTC().Format("20060102_150405"), ext)
	outputPath := filepath.Join(s.cfg.OutputDir, filename)

	if err := os.MkdirAll(s.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if s.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	s.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, data MatchExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data MatchExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
