// Package streaming defines the envelope protocol used to stream match
// results to the web frontend.
package streaming

import (
	"encoding/json"

	"github.com/tankclash/matchcore/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartMatch = "start_match"
	TypeEndMatch   = "end_match"
	TypeKill       = "kill"
	TypeFinalScore = "final_score"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`
}

// StartMatchPayload carries the match identity and roster.
type StartMatchPayload struct {
	Match        *core.MatchState   `json:"match"`
	Participants []core.Participant `json:"participants"`
}
