package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

type sent struct {
	event  protocol.Event
	target transport.Target
}

type recorder struct {
	events []sent
}

func (r *recorder) Emit(e protocol.Event, target transport.Target) {
	r.events = append(r.events, sent{event: e, target: target})
}

func newLedger(t *testing.T, id int, master bool) (*Ledger, *recorder, *transport.StaticAuthority) {
	t.Helper()
	auth := &transport.StaticAuthority{ID: id, Master: master}
	rec := &recorder{}
	l, err := New(auth, rec, nil)
	require.NoError(t, err)
	return l, rec, auth
}

func TestAddScore_MasterAppliesAndBroadcasts(t *testing.T) {
	l, rec, _ := newLedger(t, 1, true)
	l.Join(1)
	l.Join(2)

	assert.True(t, l.AddScore(1, 3))
	assert.True(t, l.AddScore(2, 1))

	assert.Equal(t, map[int]int{1: 3, 2: 1}, l.Scores())
	require.Len(t, rec.events, 2)
	assert.Equal(t, protocol.ScoreDelta{ParticipantID: 1, Score: 3, Seq: 1}, rec.events[0].event)
	assert.Equal(t, protocol.ScoreDelta{ParticipantID: 2, Score: 1, Seq: 2}, rec.events[1].event)
	assert.Equal(t, transport.TargetOthers, rec.events[0].target)
}

func TestAddScore_ClampsAtZero(t *testing.T) {
	l, _, _ := newLedger(t, 1, true)
	l.Join(1)

	l.AddScore(1, 2)
	l.AddScore(1, -5)

	assert.Equal(t, 0, l.Score(1))
}

func TestAddScore_UnknownParticipantIgnored(t *testing.T) {
	l, rec, _ := newLedger(t, 1, true)
	l.Join(1)

	assert.False(t, l.AddScore(9, 1))
	assert.Empty(t, rec.events)
	assert.Equal(t, 1, l.Len())
}

func TestAddScore_NonMasterForwardsRequest(t *testing.T) {
	l, rec, _ := newLedger(t, 2, false)
	l.Join(1)
	l.Join(2)

	assert.False(t, l.AddScore(2, 4))

	assert.Equal(t, 0, l.Score(2), "non-master must not mutate its replica")
	require.Len(t, rec.events, 1)
	assert.Equal(t, protocol.ScoreRequest{ParticipantID: 2, Delta: 4}, rec.events[0].event)
	assert.Equal(t, transport.TargetAll, rec.events[0].target)
}

func TestAddScore_NoopAfterEnd(t *testing.T) {
	l, rec, _ := newLedger(t, 1, true)
	l.Join(1)
	l.AddScore(1, 4)
	l.End()

	assert.False(t, l.AddScore(1, 5))
	assert.Equal(t, 4, l.Score(1))
	assert.Len(t, rec.events, 1)
}

func TestSettle_RaisesAfterEnd(t *testing.T) {
	l, rec, _ := newLedger(t, 2, false)
	l.Join(1)
	l.Join(2)
	l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 2, Score: 3, Seq: 1})
	l.End()

	assert.True(t, l.Settle(2, 4))
	assert.Equal(t, 4, l.Score(2))
	assert.False(t, l.Settle(2, 4))
	assert.False(t, l.Settle(2, 1), "never lowers a score")
	assert.False(t, l.Settle(7, 9), "unknown participant")
	assert.Equal(t, map[int]int{1: 0, 2: 4}, l.Scores())
	assert.Empty(t, rec.events)
}

func TestHandleRequest(t *testing.T) {
	t.Run("master applies", func(t *testing.T) {
		l, _, _ := newLedger(t, 1, true)
		l.Join(1)
		l.Join(2)

		assert.True(t, l.HandleRequest(2, protocol.ScoreRequest{ParticipantID: 2, Delta: 2}))
		assert.Equal(t, 2, l.Score(2))
	})

	t.Run("follower ignores", func(t *testing.T) {
		l, rec, _ := newLedger(t, 3, false)
		l.Join(2)

		assert.False(t, l.HandleRequest(2, protocol.ScoreRequest{ParticipantID: 2, Delta: 2}))
		assert.Equal(t, 0, l.Score(2))
		assert.Empty(t, rec.events)
	})
}

func TestApplyDelta_SequenceGuard(t *testing.T) {
	l, _, _ := newLedger(t, 2, false)
	l.Join(1)
	l.Join(2)

	assert.True(t, l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 1, Score: 3, Seq: 5}))
	assert.False(t, l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 1, Score: 1, Seq: 5}), "duplicate")
	assert.False(t, l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 1, Score: 1, Seq: 4}), "older")
	assert.Equal(t, 3, l.Score(1))

	// a new master starts its own counter
	assert.True(t, l.ApplyDelta(3, protocol.ScoreDelta{ParticipantID: 1, Score: 7, Seq: 1}))
	assert.Equal(t, 7, l.Score(1))
}

func TestApplyDelta_IgnoredOnMaster(t *testing.T) {
	l, _, _ := newLedger(t, 1, true)
	l.Join(1)

	assert.False(t, l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 1, Score: 9, Seq: 1}))
	assert.Equal(t, 0, l.Score(1))
}

func TestSnapshot_RoundTripBetweenReplicas(t *testing.T) {
	master, rec, _ := newLedger(t, 1, true)
	master.Join(1)
	master.Join(2)
	master.AddScore(1, 3)
	master.AddScore(2, 1)
	master.BroadcastSnapshot()

	snap := rec.events[len(rec.events)-1].event.(protocol.ScoreSnapshot)
	assert.Equal(t, []int{1, 3, 2, 1}, snap.Entries)

	follower, _, _ := newLedger(t, 2, false)
	follower.Join(1)
	follower.Join(2)
	require.NoError(t, follower.ApplySnapshot(1, snap))

	assert.Equal(t, master.Scores(), follower.Scores())
}

func TestSnapshot_Idempotent(t *testing.T) {
	l, _, _ := newLedger(t, 2, false)
	snap := protocol.NewScoreSnapshot([]core.ScoreEntry{{ParticipantID: 1, Score: 4}, {ParticipantID: 2, Score: 2}}, 3)

	require.NoError(t, l.ApplySnapshot(1, snap))
	first := l.Scores()
	require.NoError(t, l.ApplySnapshot(1, snap))

	assert.Equal(t, first, l.Scores())
	assert.Equal(t, map[int]int{1: 4, 2: 2}, first)
}

func TestSnapshot_OverwritesNotMerges(t *testing.T) {
	l, _, _ := newLedger(t, 2, false)
	l.Join(1)
	l.Join(2)
	l.Join(3)
	l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 3, Score: 8, Seq: 1})

	require.NoError(t, l.ApplySnapshot(1, protocol.ScoreSnapshot{Entries: []int{1, 2, 2, 0}, Seq: 2}))

	assert.Equal(t, map[int]int{1: 2, 2: 0}, l.Scores())
	assert.Equal(t, []core.ScoreEntry{{ParticipantID: 1, Score: 2}, {ParticipantID: 2, Score: 0}}, l.Entries())
}

func TestSnapshot_StaleIgnored(t *testing.T) {
	l, _, _ := newLedger(t, 2, false)
	l.ApplyDelta(1, protocol.ScoreDelta{ParticipantID: 1, Score: 5, Seq: 6})

	require.NoError(t, l.ApplySnapshot(1, protocol.ScoreSnapshot{Entries: []int{1, 4}, Seq: 5}))

	assert.Equal(t, 5, l.Score(1))
}

func TestSnapshot_Malformed(t *testing.T) {
	l, _, _ := newLedger(t, 2, false)
	l.Join(1)

	err := l.ApplySnapshot(1, protocol.ScoreSnapshot{Entries: []int{1, 2, 3}, Seq: 1})

	assert.ErrorIs(t, err, protocol.ErrMalformedSnapshot)
	assert.Equal(t, map[int]int{1: 0}, l.Scores())
}

func TestSequenceSharedAcrossMessages(t *testing.T) {
	l, rec, _ := newLedger(t, 1, true)
	l.Join(1)

	l.AddScore(1, 1)
	l.BroadcastSnapshot()
	l.AddScore(1, 1)

	require.Len(t, rec.events, 3)
	assert.Equal(t, uint64(1), rec.events[0].event.(protocol.ScoreDelta).Seq)
	assert.Equal(t, uint64(2), rec.events[1].event.(protocol.ScoreSnapshot).Seq)
	assert.Equal(t, uint64(3), rec.events[2].event.(protocol.ScoreDelta).Seq)
	assert.Equal(t, uint64(4), l.NextSeq())
}

func TestJoinLeaveReset(t *testing.T) {
	l, _, _ := newLedger(t, 1, true)
	l.Join(1)
	l.Join(2)
	l.Join(2)
	l.Join(3)
	l.AddScore(2, 2)
	l.Leave(2)

	assert.Equal(t, []core.ScoreEntry{{ParticipantID: 1}, {ParticipantID: 3}}, l.Entries())

	l.End()
	l.Reset()

	assert.False(t, l.Ended())
	assert.Zero(t, l.Len())
	assert.Equal(t, uint64(1), l.NextSeq())
}

func TestScoresReturnsCopy(t *testing.T) {
	l, _, _ := newLedger(t, 1, true)
	l.Join(1)

	m := l.Scores()
	m[1] = 100

	assert.Equal(t, 0, l.Score(1))
}
