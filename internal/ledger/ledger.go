// Package ledger keeps the per-participant score map. The master owns it and
// replicates changes as deltas plus periodic full snapshots.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

const instrumentationName = "github.com/tankclash/matchcore/internal/ledger"

// Ledger is not safe for concurrent use; the session loop owns it.
type Ledger struct {
	auth   transport.Authority
	out    transport.Emitter
	logger *slog.Logger

	scores map[int]int
	order  []int
	ended  bool

	// seq is the producer counter used while master. It stamps deltas,
	// snapshots and the match end announcement.
	seq uint64

	// watermark of the last applied replication message
	lastSender int
	lastSeq    uint64

	applied metric.Int64Counter
}

// New creates an empty ledger.
func New(auth transport.Authority, out transport.Emitter, logger *slog.Logger) (*Ledger, error) {
	applied, err := otel.Meter(instrumentationName).Int64Counter(
		"ledger.score.applied",
		metric.WithDescription("Score changes applied by the master"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating applied counter: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		auth:    auth,
		out:     out,
		logger:  logger,
		scores:  make(map[int]int),
		applied: applied,
	}, nil
}

// Join creates a zero entry for id if none exists.
func (l *Ledger) Join(id int) {
	if _, ok := l.scores[id]; ok {
		return
	}
	l.scores[id] = 0
	l.order = append(l.order, id)
}

// Leave removes the entry of id.
func (l *Ledger) Leave(id int) {
	if _, ok := l.scores[id]; !ok {
		return
	}
	delete(l.scores, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// AddScore changes the score of id by delta. On the master the change is
// applied and broadcast; elsewhere it is forwarded as a request. It reports
// whether the local map changed.
func (l *Ledger) AddScore(id, delta int) bool {
	if l.ended {
		l.logger.Debug("score change after match end ignored", "participant", id, "delta", delta)
		return false
	}
	if !l.auth.IsMasterClient() {
		l.out.Emit(protocol.ScoreRequest{ParticipantID: id, Delta: delta}, transport.TargetAll)
		return false
	}
	current, ok := l.scores[id]
	if !ok {
		l.logger.Debug("score change for unknown participant ignored", "participant", id)
		return false
	}

	next := current + delta
	if next < 0 {
		next = 0
	}
	l.scores[id] = next
	l.applied.Add(context.Background(), 1)

	l.out.Emit(protocol.ScoreDelta{ParticipantID: id, Score: next, Seq: l.NextSeq()}, transport.TargetOthers)
	return true
}

// HandleRequest applies a forwarded score request. Only the master acts on it.
func (l *Ledger) HandleRequest(senderID int, req protocol.ScoreRequest) bool {
	if !l.auth.IsMasterClient() {
		return false
	}
	l.logger.Debug("score request", "sender", senderID, "participant", req.ParticipantID, "delta", req.Delta)
	return l.AddScore(req.ParticipantID, req.Delta)
}

// ApplyDelta overwrites one replicated entry. Deltas at or below the last
// applied sequence of the same sender are dropped.
func (l *Ledger) ApplyDelta(senderID int, d protocol.ScoreDelta) bool {
	if l.auth.IsMasterClient() || l.ended {
		return false
	}
	if !l.advance(senderID, d.Seq) {
		l.logger.Debug("stale score delta dropped", "sender", senderID, "seq", d.Seq, "last", l.lastSeq)
		return false
	}
	if _, ok := l.scores[d.ParticipantID]; !ok {
		l.order = append(l.order, d.ParticipantID)
	}
	l.scores[d.ParticipantID] = max(d.Score, 0)
	return true
}

// BroadcastSnapshot sends the whole map in enumeration order. Master only.
func (l *Ledger) BroadcastSnapshot() {
	if !l.auth.IsMasterClient() {
		return
	}
	l.out.Emit(protocol.NewScoreSnapshot(l.Entries(), l.NextSeq()), transport.TargetOthers)
}

// ApplySnapshot replaces the local map with the snapshot. A stale snapshot
// from the current sender is ignored.
func (l *Ledger) ApplySnapshot(senderID int, s protocol.ScoreSnapshot) error {
	if l.auth.IsMasterClient() {
		return nil
	}
	pairs, err := s.Pairs()
	if err != nil {
		return err
	}
	if !l.advance(senderID, s.Seq) {
		l.logger.Debug("stale score snapshot ignored", "sender", senderID, "seq", s.Seq, "last", l.lastSeq)
		return nil
	}

	l.scores = make(map[int]int, len(pairs))
	l.order = l.order[:0]
	for _, p := range pairs {
		if _, dup := l.scores[p.ParticipantID]; !dup {
			l.order = append(l.order, p.ParticipantID)
		}
		l.scores[p.ParticipantID] = max(p.Score, 0)
	}
	return nil
}

// advance moves the replication watermark. A new sender resets it.
func (l *Ledger) advance(senderID int, seq uint64) bool {
	if senderID == l.lastSender && seq <= l.lastSeq {
		return false
	}
	l.lastSender = senderID
	l.lastSeq = seq
	return true
}

// NextSeq returns the next producer sequence number.
func (l *Ledger) NextSeq() uint64 {
	l.seq++
	return l.seq
}

// End latches the ledger; later score changes are ignored.
func (l *Ledger) End() {
	l.ended = true
}

// Settle raises the entry of id to the announced final score. It applies
// after End, since the announcement is the last word on the winner's score.
func (l *Ledger) Settle(id, score int) bool {
	current, ok := l.scores[id]
	if !ok || score <= current {
		return false
	}
	l.scores[id] = score
	return true
}

func (l *Ledger) Ended() bool {
	return l.ended
}

// Reset clears scores, the end latch and sequence state.
func (l *Ledger) Reset() {
	l.scores = make(map[int]int)
	l.order = nil
	l.ended = false
	l.seq = 0
	l.lastSender = 0
	l.lastSeq = 0
}

// Scores returns a copy of the score map.
func (l *Ledger) Scores() map[int]int {
	out := make(map[int]int, len(l.scores))
	for id, s := range l.scores {
		out[id] = s
	}
	return out
}

// Score returns the score of id, zero when absent.
func (l *Ledger) Score(id int) int {
	return l.scores[id]
}

// Entries returns the scores in enumeration order.
func (l *Ledger) Entries() []core.ScoreEntry {
	entries := make([]core.ScoreEntry, 0, len(l.order))
	for _, id := range l.order {
		entries = append(entries, core.ScoreEntry{ParticipantID: id, Score: l.scores[id]})
	}
	return entries
}

func (l *Ledger) Len() int {
	return len(l.scores)
}
