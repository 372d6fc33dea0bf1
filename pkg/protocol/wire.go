package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tankclash/matchcore/pkg/core"
)

// Frame types exchanged between relay and room clients.
const (
	FrameJoined         = "joined"
	FrameRaise          = "raise"
	FrameEvent          = "event"
	FramePlayerJoined   = "player_joined"
	FramePlayerLeft     = "player_left"
	FrameMasterSwitched = "master_switched"
	FrameError          = "error"
)

// Frame is the JSON message carried over the relay WebSocket.
// Payload bytes are base64 encoded by encoding/json.
type Frame struct {
	Type         string             `json:"type"`
	Code         Code               `json:"code,omitempty"`
	Target       int                `json:"target,omitempty"`
	Payload      []byte             `json:"payload,omitempty"`
	Sender       int                `json:"sender,omitempty"`
	Self         *core.Participant  `json:"self,omitempty"`
	Participant  *core.Participant  `json:"participant,omitempty"`
	Participants []core.Participant `json:"participants,omitempty"`
	MasterID     int                `json:"masterId,omitempty"`
	Room         string             `json:"room,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// MarshalFrame encodes a frame for the wire.
func MarshalFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}
	return data, nil
}

// UnmarshalFrame decodes a frame from the wire.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("unmarshal frame: missing type")
	}
	return f, nil
}
