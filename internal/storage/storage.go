// Package storage defines the score sink the match core hands results to.
package storage

import (
	"errors"

	"github.com/tankclash/matchcore/pkg/core"
)

// ErrNotStarted is returned when recording into a sink before StartMatch.
var ErrNotStarted = errors.New("no match started")

// Sink is the interface all score sink implementations must satisfy.
// Calls for one match arrive in order: StartMatch, any number of RecordKill
// and SubmitFinalScore, then EndMatch. Several participants of the same match
// may share one sink.
type Sink interface {
	// Lifecycle
	Init() error
	Close() error

	// Match management
	StartMatch(match *core.MatchState, participants []core.Participant) error
	EndMatch() error

	RecordKill(k *core.KillRecord) error
	SubmitFinalScore(s *core.FinalScore) error
}

// Exportable is an optional interface for sinks that write a result file.
type Exportable interface {
	GetExportedFilePath() string
}
