package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/internal/storage/memory"
	"github.com/tankclash/matchcore/pkg/core"
)

type frontend struct {
	mu      sync.Mutex
	batches []ScoreBatch
	uploads int
}

func newFrontend(t *testing.T) (*httptest.Server, *frontend) {
	f := &frontend{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/healthcheck":
		case "/api/v1/scores":
			var b ScoreBatch
			_ = json.NewDecoder(r.Body).Decode(&b)
			f.batches = append(f.batches, b)
		case "/api/v1/matches/upload":
			f.uploads++
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, f
}

func TestSinkPostsOnEnd(t *testing.T) {
	srv, f := newFrontend(t)
	s := NewSink(New(srv.URL, ""))
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	if err := s.SubmitFinalScore(&core.FinalScore{ParticipantID: 1}); !errors.Is(err, storage.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	m := &core.MatchState{ID: "m1"}
	_ = s.StartMatch(m, nil)
	_ = s.RecordKill(&core.KillRecord{MatchID: "m1", KillerID: 2, VictimID: 1})
	_ = s.SubmitFinalScore(&core.FinalScore{MatchID: "m1", ParticipantID: 2, Score: 1})
	_ = s.SubmitFinalScore(&core.FinalScore{MatchID: "m1", ParticipantID: 1, Score: 4, Winner: true})
	_ = s.SubmitFinalScore(&core.FinalScore{MatchID: "m1", ParticipantID: 2, Score: 2})

	if err := s.EndMatch(); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(f.batches))
	}
	b := f.batches[0]
	if len(b.Scores) != 2 || b.Scores[0].ParticipantID != 2 || b.Scores[0].Score != 2 {
		t.Errorf("unexpected scores: %+v", b.Scores)
	}
	if len(b.Kills) != 1 {
		t.Errorf("expected 1 kill, got %d", len(b.Kills))
	}
}

func TestUploadingSink(t *testing.T) {
	srv, f := newFrontend(t)
	inner := memory.New(config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: true})
	s := NewUploadingSink(inner, New(srv.URL, "k"))

	_ = s.StartMatch(&core.MatchState{ID: "m1", StartedAt: time.Now()}, []core.Participant{{ID: 1}})
	if err := s.EndMatch(); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads != 1 {
		t.Errorf("expected 1 upload, got %d", f.uploads)
	}
}

func TestUploadingSinkWithoutExport(t *testing.T) {
	srv, f := newFrontend(t)
	s := NewUploadingSink(memory.New(config.MemoryConfig{}), New(srv.URL, ""))

	_ = s.StartMatch(&core.MatchState{ID: "m1"}, nil)
	if err := s.EndMatch(); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads != 0 {
		t.Errorf("expected no upload, got %d", f.uploads)
	}
}
