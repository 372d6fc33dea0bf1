// Package protocol defines the application-level events exchanged between
// participants of a room and their binary encoding.
package protocol

import (
	"errors"
	"fmt"

	"github.com/tankclash/matchcore/pkg/core"
	"github.com/vmihailenco/msgpack/v5"
)

// Code is the event code carried by the transport.
type Code byte

// Reserved event codes. They must stay identical on every participant.
const (
	CodeScoreDelta        Code = 1
	CodeMatchEnd          Code = 2
	CodeWalletAssociation Code = 3
	CodeScoreSnapshot     Code = 4
	CodeTimerSync         Code = 5
	CodeScoreRequest      Code = 6
	CodeKillFeed          Code = 7
	CodeTankDamage        Code = 8
	CodeTankRespawn       Code = 9
	CodeMatchStart        Code = 10
	CodeTankState         Code = 11
)

var codeNames = map[Code]string{
	CodeScoreDelta:        "score_delta",
	CodeMatchEnd:          "match_end",
	CodeWalletAssociation: "wallet_association",
	CodeScoreSnapshot:     "score_snapshot",
	CodeTimerSync:         "timer_sync",
	CodeScoreRequest:      "score_request",
	CodeKillFeed:          "kill_feed",
	CodeTankDamage:        "tank_damage",
	CodeTankRespawn:       "tank_respawn",
	CodeMatchStart:        "match_start",
	CodeTankState:         "tank_state",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", byte(c))
}

// Known reports whether c is one of the reserved codes.
func (c Code) Known() bool {
	_, ok := codeNames[c]
	return ok
}

var (
	// ErrUnknownCode is returned when decoding an event code nobody registered.
	ErrUnknownCode = errors.New("unknown event code")
	// ErrMalformedSnapshot is returned for a snapshot with an odd number of values.
	ErrMalformedSnapshot = errors.New("malformed score snapshot")
)

// Event is one decoded application event.
type Event interface {
	Code() Code
}

// ScoreDelta carries the new total of one participant after a change.
type ScoreDelta struct {
	ParticipantID int    `msgpack:"p"`
	Score         int    `msgpack:"s"`
	Seq           uint64 `msgpack:"q"`
}

func (ScoreDelta) Code() Code { return CodeScoreDelta }

// ScoreSnapshot is the whole score map flattened as id, score, id, score, ...
type ScoreSnapshot struct {
	Entries []int  `msgpack:"e"`
	Seq     uint64 `msgpack:"q"`
}

func (ScoreSnapshot) Code() Code { return CodeScoreSnapshot }

// NewScoreSnapshot flattens entries in the given order.
func NewScoreSnapshot(entries []core.ScoreEntry, seq uint64) ScoreSnapshot {
	flat := make([]int, 0, len(entries)*2)
	for _, e := range entries {
		flat = append(flat, e.ParticipantID, e.Score)
	}
	return ScoreSnapshot{Entries: flat, Seq: seq}
}

// Pairs expands the flattened entries.
func (s ScoreSnapshot) Pairs() ([]core.ScoreEntry, error) {
	if len(s.Entries)%2 != 0 {
		return nil, fmt.Errorf("%w: %d values", ErrMalformedSnapshot, len(s.Entries))
	}
	pairs := make([]core.ScoreEntry, 0, len(s.Entries)/2)
	for i := 0; i < len(s.Entries); i += 2 {
		pairs = append(pairs, core.ScoreEntry{ParticipantID: s.Entries[i], Score: s.Entries[i+1]})
	}
	return pairs, nil
}

// ScoreRequest is a score change forwarded by a non-master participant.
type ScoreRequest struct {
	ParticipantID int `msgpack:"p"`
	Delta         int `msgpack:"d"`
}

func (ScoreRequest) Code() Code { return CodeScoreRequest }

// TimerSync carries the master's remaining match time in seconds.
type TimerSync struct {
	TimeLeft float32 `msgpack:"t"`
}

func (TimerSync) Code() Code { return CodeTimerSync }

// MatchStart announces the match identity and timing to followers.
type MatchStart struct {
	MatchID         string `msgpack:"id"`
	StartedAtMillis int64  `msgpack:"s"`
	DurationSeconds int    `msgpack:"d"`
}

func (MatchStart) Code() Code { return CodeMatchStart }

// MatchEnd announces the winner once the match is over.
type MatchEnd struct {
	MatchID     string `msgpack:"id"`
	WinnerID    int    `msgpack:"w"`
	WinnerName  string `msgpack:"n"`
	WinnerScore int    `msgpack:"s"`
	Seq         uint64 `msgpack:"q"`
}

func (MatchEnd) Code() Code { return CodeMatchEnd }

// Result converts the announcement into a core.MatchResult.
func (e MatchEnd) Result() core.MatchResult {
	return core.MatchResult{
		MatchID:     e.MatchID,
		WinnerID:    e.WinnerID,
		WinnerName:  e.WinnerName,
		WinnerScore: e.WinnerScore,
	}
}

// WalletAssociation links a participant to a wallet address. The match core
// only relays it.
type WalletAssociation struct {
	ParticipantID int    `msgpack:"p"`
	Address       string `msgpack:"a"`
}

func (WalletAssociation) Code() Code { return CodeWalletAssociation }

// KillFeed notifies everyone of an attributed kill.
type KillFeed struct {
	KillerID int `msgpack:"k"`
	VictimID int `msgpack:"v"`
}

func (KillFeed) Code() Code { return CodeKillFeed }

// TankDamage reports a hit to the master.
type TankDamage struct {
	VictimID int     `msgpack:"v"`
	KillerID int     `msgpack:"k"`
	Amount   float64 `msgpack:"a"`
}

func (TankDamage) Code() Code { return CodeTankDamage }

// TankState replicates the master's view of one tank.
type TankState struct {
	ParticipantID int            `msgpack:"p"`
	Phase         core.TankPhase `msgpack:"ph"`
	Health        float64        `msgpack:"h"`
}

func (TankState) Code() Code { return CodeTankState }

// TankRespawn places a tank back on the field.
type TankRespawn struct {
	ParticipantID int       `msgpack:"p"`
	Position      core.Vec2 `msgpack:"pos"`
	SpawnIndex    int       `msgpack:"i"`
}

func (TankRespawn) Code() Code { return CodeTankRespawn }

// Encode serializes an event for the transport.
func Encode(e Event) (Code, []byte, error) {
	if e == nil {
		return 0, nil, errors.New("encode nil event")
	}
	payload, err := msgpack.Marshal(e)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", e.Code(), err)
	}
	return e.Code(), payload, nil
}

// Decode parses a transport payload into its typed event.
func Decode(code Code, payload []byte) (Event, error) {
	switch code {
	case CodeScoreDelta:
		return decodeInto[ScoreDelta](code, payload)
	case CodeMatchEnd:
		return decodeInto[MatchEnd](code, payload)
	case CodeWalletAssociation:
		return decodeInto[WalletAssociation](code, payload)
	case CodeScoreSnapshot:
		ev, err := decodeInto[ScoreSnapshot](code, payload)
		if err != nil {
			return nil, err
		}
		if _, err := ev.(ScoreSnapshot).Pairs(); err != nil {
			return nil, err
		}
		return ev, nil
	case CodeTimerSync:
		return decodeInto[TimerSync](code, payload)
	case CodeScoreRequest:
		return decodeInto[ScoreRequest](code, payload)
	case CodeKillFeed:
		return decodeInto[KillFeed](code, payload)
	case CodeTankDamage:
		return decodeInto[TankDamage](code, payload)
	case CodeTankRespawn:
		return decodeInto[TankRespawn](code, payload)
	case CodeMatchStart:
		return decodeInto[MatchStart](code, payload)
	case CodeTankState:
		return decodeInto[TankState](code, payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, byte(code))
	}
}

func decodeInto[T Event](code Code, payload []byte) (Event, error) {
	var ev T
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", code, err)
	}
	return ev, nil
}
