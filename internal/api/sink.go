package api

import (
	"fmt"
	"sync"

	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/internal/storage/memory"
	"github.com/tankclash/matchcore/pkg/core"
)

// Sink collects a match in memory and posts its final scores to the web
// frontend on EndMatch.
type Sink struct {
	client *Client

	mu      sync.Mutex
	matchID string
	scores  map[int]core.FinalScore
	order   []int
	kills   []core.KillRecord
}

var _ storage.Sink = (*Sink)(nil)

// NewSink creates a score-posting sink.
func NewSink(client *Client) *Sink {
	return &Sink{client: client, scores: make(map[int]core.FinalScore)}
}

// Init checks the frontend is reachable.
func (s *Sink) Init() error {
	return s.client.Healthcheck()
}

func (s *Sink) Close() error {
	return nil
}

func (s *Sink) StartMatch(match *core.MatchState, _ []core.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID != match.ID {
		s.matchID = match.ID
		s.scores = make(map[int]core.FinalScore)
		s.order = nil
		s.kills = nil
	}
	return nil
}

func (s *Sink) RecordKill(k *core.KillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID == "" {
		return storage.ErrNotStarted
	}
	s.kills = append(s.kills, *k)
	return nil
}

func (s *Sink) SubmitFinalScore(fs *core.FinalScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchID == "" {
		return storage.ErrNotStarted
	}
	if _, ok := s.scores[fs.ParticipantID]; !ok {
		s.order = append(s.order, fs.ParticipantID)
	}
	s.scores[fs.ParticipantID] = *fs
	return nil
}

// EndMatch posts everything submitted so far.
func (s *Sink) EndMatch() error {
	s.mu.Lock()
	if s.matchID == "" {
		s.mu.Unlock()
		return storage.ErrNotStarted
	}
	batch := ScoreBatch{MatchID: s.matchID, Kills: append([]core.KillRecord(nil), s.kills...)}
	for _, id := range s.order {
		batch.Scores = append(batch.Scores, s.scores[id])
	}
	s.mu.Unlock()

	return s.client.SubmitScores(batch)
}

// UploadingSink wraps the memory sink and uploads its export after every
// EndMatch.
type UploadingSink struct {
	*memory.Sink
	client *Client
}

// NewUploadingSink creates a memory sink that uploads its exports.
func NewUploadingSink(inner *memory.Sink, client *Client) *UploadingSink {
	return &UploadingSink{Sink: inner, client: client}
}

func (s *UploadingSink) EndMatch() error {
	if err := s.Sink.EndMatch(); err != nil {
		return err
	}
	path := s.GetExportedFilePath()
	if path == "" {
		return nil
	}
	export := s.Export()
	if err := s.client.Upload(path, UploadMetadata{
		MatchID:         export.MatchID,
		DurationSeconds: export.DurationSeconds,
		Players:         len(export.Participants),
	}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}
