// Package winner resolves and announces the outcome of a match.
package winner

import (
	"log/slog"
	"time"

	"github.com/tankclash/matchcore/internal/scheduler"
	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

// MatchBonus is added to the winner's score after resolution.
const MatchBonus = 1

var keyFallback = scheduler.Key{Owner: "winner", Purpose: "fallback"}

// Resolve returns the first participant in order holding the maximum score.
// Participants missing from scores count as zero.
func Resolve(scores map[int]int, order []int) (id, score int, ok bool) {
	for _, pid := range order {
		s := scores[pid]
		if !ok || s > score {
			id, score, ok = pid, s, true
		}
	}
	return id, score, ok
}

// Ledger is the part of the score ledger the announcer needs.
type Ledger interface {
	AddScore(id, delta int) bool
	Scores() map[int]int
	Score(id int) int
	NextSeq() uint64
	End()
	Settle(id, score int) bool
}

// Names looks up display names.
type Names interface {
	Name(id int) string
}

// Announcer resolves the winner on the master and records the announced
// result on every participant.
type Announcer struct {
	auth     transport.Authority
	out      transport.Emitter
	sched    *scheduler.Scheduler
	ledger   Ledger
	names    Names
	fallback time.Duration
	onResult func(core.MatchResult)
	logger   *slog.Logger

	sent      bool
	announced bool
	result    core.MatchResult
}

func NewAnnouncer(auth transport.Authority, out transport.Emitter, sched *scheduler.Scheduler, ledger Ledger,
	names Names, fallback time.Duration, onResult func(core.MatchResult), logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		auth:     auth,
		out:      out,
		sched:    sched,
		ledger:   ledger,
		names:    names,
		fallback: fallback,
		onResult: onResult,
		logger:   logger,
	}
}

// Announce resolves the winner over order, applies the match bonus and
// broadcasts the result once. Master only.
func (a *Announcer) Announce(matchID string, order []int) bool {
	if !a.auth.IsMasterClient() || a.sent || a.announced {
		return false
	}
	a.sent = true

	ev := protocol.MatchEnd{MatchID: matchID}
	if id, _, ok := Resolve(a.ledger.Scores(), order); ok {
		a.ledger.AddScore(id, MatchBonus)
		ev.WinnerID = id
		ev.WinnerName = a.names.Name(id)
		ev.WinnerScore = a.ledger.Score(id)
	}
	ev.Seq = a.ledger.NextSeq()
	a.ledger.End()

	a.logger.Info("announcing winner", "matchId", matchID, "winner", ev.WinnerID, "score", ev.WinnerScore)
	a.out.Emit(ev, transport.TargetAll)

	if a.fallback > 0 {
		a.sched.After(keyFallback, a.fallback, func(time.Time) {
			if a.announced {
				return
			}
			a.logger.Warn("match end not observed, announcing locally", "matchId", matchID)
			a.Receive(a.auth.LocalID(), ev)
		})
	}
	return true
}

// Receive records an announced result. Only the first one counts.
func (a *Announcer) Receive(senderID int, ev protocol.MatchEnd) bool {
	if a.announced {
		return false
	}
	a.announced = true
	a.result = ev.Result()
	a.sched.Cancel(keyFallback)
	a.ledger.End()
	if a.result.HasWinner() && a.ledger.Settle(ev.WinnerID, ev.WinnerScore) {
		a.logger.Debug("winner score settled from announcement", "winner", ev.WinnerID, "score", ev.WinnerScore)
	}

	a.logger.Info("match result", "sender", senderID, "winner", ev.WinnerID, "name", ev.WinnerName, "score", ev.WinnerScore)
	if a.onResult != nil {
		a.onResult(a.result)
	}
	return true
}

// Result returns the recorded result, if any.
func (a *Announcer) Result() (core.MatchResult, bool) {
	return a.result, a.announced
}

func (a *Announcer) Reset() {
	a.sched.Cancel(keyFallback)
	a.sent = false
	a.announced = false
	a.result = core.MatchResult{}
}
