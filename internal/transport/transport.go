// Package transport describes the pub/sub room primitive the match core runs on.
// Delivery is reliable and ordered per sender; implementations provide it.
package transport

import (
	"errors"

	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

// Target selects the receivers of a raised event.
type Target int

const (
	// TargetAll delivers to every participant, the sender included.
	TargetAll Target = iota
	// TargetMasterOnly delivers to the current master.
	TargetMasterOnly
	// TargetOthers delivers to everyone except the sender.
	TargetOthers
)

func (t Target) String() string {
	switch t {
	case TargetAll:
		return "all"
	case TargetMasterOnly:
		return "master"
	case TargetOthers:
		return "others"
	default:
		return "unknown"
	}
}

// ErrNotJoined is returned when raising events outside a room.
var ErrNotJoined = errors.New("not joined to a room")

// Listener receives transport callbacks.
type Listener interface {
	OnEvent(code protocol.Code, payload []byte, senderID int)
	OnParticipantJoined(p core.Participant)
	OnParticipantLeft(p core.Participant)
	OnMasterClientSwitched(master core.Participant)
}

// Authority answers who the local participant is and whether it is master.
type Authority interface {
	LocalID() int
	IsMasterClient() bool
}

// Transport is a joined room connection.
type Transport interface {
	Authority
	// CurrentParticipants lists joined participants in enumeration order.
	CurrentParticipants() []core.Participant
	RaiseEvent(code protocol.Code, payload []byte, target Target) error
	Subscribe(l Listener)
	Leave() error
}

// Emitter sends typed events. Errors are handled by the implementation.
type Emitter interface {
	Emit(e protocol.Event, target Target)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(e protocol.Event, target Target)

func (f EmitterFunc) Emit(e protocol.Event, target Target) { f(e, target) }

// StaticAuthority is a fixed Authority, handy for single-node tools.
type StaticAuthority struct {
	ID     int
	Master bool
}

func (a *StaticAuthority) LocalID() int        { return a.ID }
func (a *StaticAuthority) IsMasterClient() bool { return a.Master }
