// Package websocket streams match results to the web frontend over a
// WebSocket. Start and end wait for a server ack; kills and final scores
// are fire-and-forget.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/streaming"
)

// Sink implements storage.Sink over a WebSocket connection.
type Sink struct {
	conn    *connection
	cfg     config.WebSocketConfig
	started atomic.Bool
}

var _ storage.Sink = (*Sink)(nil)

// New creates a new WebSocket sink.
func New(cfg config.WebSocketConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		conn: newConnection(logger.With("component", "ws-sink")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (s *Sink) Init() error {
	return s.conn.dial(s.cfg.URL, s.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (s *Sink) Close() error {
	return s.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (s *Sink) sendEnvelope(msgType string, payload any) error {
	if !s.started.Load() {
		return storage.ErrNotStarted
	}
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	s.conn.send(data)
	return nil
}

// StartMatch sends the match and roster and waits for the server ack.
func (s *Sink) StartMatch(match *core.MatchState, participants []core.Participant) error {
	data, err := marshalEnvelope(streaming.TypeStartMatch, streaming.StartMatchPayload{
		Match:        match,
		Participants: participants,
	})
	if err != nil {
		return err
	}

	s.conn.setReplay(data)
	s.started.Store(true)
	return s.conn.sendAndWait(data, streaming.TypeStartMatch, ackTimeout)
}

// EndMatch sends end_match and waits for the server ack.
func (s *Sink) EndMatch() error {
	if !s.started.Swap(false) {
		return storage.ErrNotStarted
	}
	data, err := marshalEnvelope(streaming.TypeEndMatch, nil)
	if err != nil {
		return err
	}
	err = s.conn.sendAndWait(data, streaming.TypeEndMatch, ackTimeout)
	s.conn.setReplay(nil)
	return err
}

func (s *Sink) RecordKill(k *core.KillRecord) error {
	return s.sendEnvelope(streaming.TypeKill, k)
}

func (s *Sink) SubmitFinalScore(fs *core.FinalScore) error {
	return s.sendEnvelope(streaming.TypeFinalScore, fs)
}
