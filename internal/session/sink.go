package session

import (
	"fmt"

	"github.com/tankclash/matchcore/internal/dispatcher"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/pkg/core"
)

const (
	topicSink      = "sink"
	sinkBufferSize = 256
)

// sinkJob is one write to the score sink. Jobs run in order off the session
// loop; failures are logged and never retried.
type sinkJob struct {
	name string
	run  func(storage.Sink) error
}

func (s *Session) handleSinkJob(e dispatcher.Event) error {
	job, ok := e.Payload.(sinkJob)
	if !ok {
		return fmt.Errorf("unexpected sink payload %T", e.Payload)
	}
	if err := job.run(s.deps.Sink); err != nil {
		s.logger.Warn("sink write failed", "job", job.name, "error", err)
	}
	return nil
}

func (s *Session) toSink(name string, run func(storage.Sink) error) {
	if s.deps.Sink == nil {
		return
	}
	err := s.events.Dispatch(dispatcher.Event{
		Topic:     topicSink,
		Payload:   sinkJob{name: name, run: run},
		Timestamp: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("sink write not queued", "job", name, "error", err)
	}
}

func (s *Session) startSink(m core.MatchState, participants []core.Participant) {
	s.toSink("start_match", func(sink storage.Sink) error {
		return sink.StartMatch(&m, participants)
	})
}

func (s *Session) recordKill(k core.KillRecord) {
	s.toSink("record_kill", func(sink storage.Sink) error {
		return sink.RecordKill(&k)
	})
}

// finishSink submits the local final score and closes the match record.
func (s *Session) finishSink(own core.FinalScore) {
	s.toSink("submit_final_score", func(sink storage.Sink) error {
		return sink.SubmitFinalScore(&own)
	})
	s.toSink("end_match", func(sink storage.Sink) error {
		return sink.EndMatch()
	})
}
