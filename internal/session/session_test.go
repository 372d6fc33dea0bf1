package session

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/lifecycle"
	"github.com/tankclash/matchcore/internal/scheduler"
	memsink "github.com/tankclash/matchcore/internal/storage/memory"
	"github.com/tankclash/matchcore/internal/transport/memory"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testMatchConfig() config.MatchConfig {
	return config.MatchConfig{
		Duration:          180 * time.Second,
		TimerSyncInterval: 5 * time.Second,
		SnapshotInterval:  5 * time.Second,
		RespawnDelay:      5 * time.Second,
		SoloGrace:         5 * time.Second,
		EnemyInterval:     8 * time.Second,
		WinnerFallback:    2 * time.Second,
		MaxHealth:         100,
		SpawnPoints:       []string{"-8,-4", "8,-4", "-8,4", "8,4"},
	}
}

type harness struct {
	t         *testing.T
	cfg       config.MatchConfig
	room      *memory.Room
	clock     *scheduler.ManualClock
	sessions  []*Session
	sinks     map[int]*memsink.Sink
	fields    map[int]*lifecycle.Field
	matchEnds atomic.Int32
	drop      func(from, to int, code protocol.Code) bool
	killFeeds map[int]int
}

func newHarness(t *testing.T, cfg config.MatchConfig) *harness {
	h := &harness{
		t:         t,
		cfg:       cfg,
		room:      memory.NewRoom(),
		clock:     scheduler.NewManualClock(t0),
		sinks:     make(map[int]*memsink.Sink),
		fields:    make(map[int]*lifecycle.Field),
		killFeeds: make(map[int]int),
	}
	h.room.SetFilter(func(from, to int, code protocol.Code) bool {
		if code == protocol.CodeMatchEnd {
			h.matchEnds.Add(1)
		}
		return h.drop == nil || !h.drop(from, to, code)
	})
	return h
}

func (h *harness) join(name string) *Session {
	h.t.Helper()
	peer := h.room.Join(name)
	sink := memsink.New(config.MemoryConfig{})
	field := lifecycle.NewField()
	id := peer.LocalID()

	s, err := New(peer, Dependencies{
		Match:   h.cfg,
		Clock:   h.clock,
		Rand:    rand.New(rand.NewSource(int64(id))),
		Sink:    sink,
		Spawner: field,
		Hooks: Hooks{
			OnKillFeed: func(killerID, victimID int) { h.killFeeds[id]++ },
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(h.t, err)
	h.t.Cleanup(s.Close)

	s.Start()
	h.sessions = append(h.sessions, s)
	h.sinks[id] = sink
	h.fields[id] = field
	return s
}

// pump drains every session and flushes the room until nothing moves.
func (h *harness) pump() {
	for i := 0; i < 100; i++ {
		n := 0
		for _, s := range h.sessions {
			n += s.Drain()
		}
		n += h.room.Flush()
		if n == 0 {
			return
		}
	}
	h.t.Fatal("room did not settle")
}

// step advances the clock by d and ticks every session.
func (h *harness) step(d time.Duration) {
	h.clock.Add(d)
	for _, s := range h.sessions {
		s.Tick()
	}
	h.pump()
}

// runUntil steps in 5s increments until the clock reaches t0+at.
func (h *harness) runUntil(at time.Duration) {
	for h.clock.Now().Before(t0.Add(at)) {
		h.step(5 * time.Second)
	}
}

func TestEndToEnd_ScoresSnapshotTimeoutAndLatch(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	s2 := h.join("bravo")
	h.pump()

	require.Equal(t, lifecycle.Running, s1.State())
	require.Equal(t, lifecycle.Running, s2.State())
	require.NotEmpty(t, s1.Match().ID)
	assert.Equal(t, s1.Match().ID, s2.Match().ID)

	s1.AddScore(1, 3)
	s2.AddScore(2, 1)
	h.pump()
	assert.Equal(t, map[int]int{1: 3, 2: 1}, s1.Scores())

	h.step(5 * time.Second)
	assert.Equal(t, map[int]int{1: 3, 2: 1}, s2.Scores())

	h.runUntil(180 * time.Second)
	assert.Equal(t, lifecycle.Ended, s1.State())
	assert.Equal(t, lifecycle.Ended, s2.State())

	for _, s := range []*Session{s1, s2} {
		r := res(t, s)
		assert.Equal(t, 1, r.WinnerID)
		assert.Equal(t, "alpha", r.WinnerName)
		assert.Equal(t, 4, r.WinnerScore)
		assert.Equal(t, s1.Match().ID, r.MatchID)
	}
	// one raise, delivered to both participants
	assert.EqualValues(t, 2, h.matchEnds.Load())

	h.step(5 * time.Second)
	assert.EqualValues(t, 2, h.matchEnds.Load(), "fallback must not re-announce")

	s1.AddScore(1, 5)
	s2.AddScore(1, 5)
	h.pump()
	assert.Equal(t, 4, s1.Scores()[1])
	assert.Equal(t, 4, s2.Scores()[1])

	own, ok := s1.OwnScore()
	require.True(t, ok)
	assert.Equal(t, core.FinalScore{
		MatchID: res(t, s1).MatchID, ParticipantID: 1, Name: "alpha", Score: 4, MatchBonus: 1, Winner: true,
		SubmittedAt: own.SubmittedAt,
	}, own)

	s1.Close()
	s2.Close()
	export := h.sinks[1].Export()
	assert.Equal(t, s1.Match().ID, export.MatchID)
	require.Len(t, export.FinalScores, 1)
	assert.Equal(t, 4, export.FinalScores[0].Score)
	assert.True(t, export.FinalScores[0].Winner)

	export = h.sinks[2].Export()
	require.Len(t, export.FinalScores, 1)
	assert.Equal(t, core.FinalScore{
		MatchID: export.MatchID, ParticipantID: 2, Name: "bravo", Score: 1,
		SubmittedAt: export.FinalScores[0].SubmittedAt,
	}, export.FinalScores[0])
}

func res(t *testing.T, s *Session) core.MatchResult {
	t.Helper()
	r, ok := s.Result()
	require.True(t, ok)
	return r
}

func TestMasterHandover_RearmsWithRemainingTime(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	s2 := h.join("bravo")
	s3 := h.join("charlie")
	h.pump()

	s1.AddScore(3, 2)
	h.runUntil(60 * time.Second)

	require.NoError(t, s1.Leave())
	h.sessions = h.sessions[1:]
	h.pump()

	assert.Equal(t, lifecycle.NotStarted, s1.State())
	assert.Zero(t, s1.sched.Len(), "timers of a left session must be gone")

	assert.Equal(t, 2, h.room.Master())
	assert.InDelta(t, (120 * time.Second).Seconds(), s2.TimeLeft().Seconds(), 0.01)
	assert.InDelta(t, (120 * time.Second).Seconds(), s3.TimeLeft().Seconds(), 0.01)
	assert.Equal(t, map[int]int{2: 0, 3: 2}, s3.Scores())

	h.runUntil(175 * time.Second)
	assert.Equal(t, lifecycle.Running, s2.State())

	h.runUntil(180 * time.Second)
	r := res(t, s3)
	assert.Equal(t, 3, r.WinnerID)
	assert.Equal(t, 3, r.WinnerScore)
	assert.Equal(t, s2.Match().ID, r.MatchID)
}

func TestDamage_DeathIsIdempotentAndRespawns(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	s2 := h.join("bravo")
	h.pump()

	s2.ApplyDamage(1, 2, 60)
	h.pump()
	tank, ok := s2.Tank(1)
	require.True(t, ok)
	assert.InDelta(t, 40, tank.Health, 0.001)

	s2.ApplyDamage(1, 2, 60)
	s2.ApplyDamage(1, 2, 100)
	h.pump()

	assert.Equal(t, 1, s1.Scores()[2])
	assert.Equal(t, 1, s2.Scores()[2])
	assert.Equal(t, 1, h.killFeeds[1])
	assert.Equal(t, 1, h.killFeeds[2])

	tank, _ = s1.Tank(1)
	assert.Equal(t, core.PhaseRespawning, tank.Phase)
	tank, _ = s2.Tank(1)
	assert.Equal(t, core.PhaseDead, tank.Phase)

	h.step(5 * time.Second)
	for _, s := range []*Session{s1, s2} {
		tank, _ = s.Tank(1)
		assert.Equal(t, core.PhaseAlive, tank.Phase)
		assert.InDelta(t, 100, tank.Health, 0.001)
	}

	s1.Close()
	kills := h.sinks[1].Export().Kills
	require.Len(t, kills, 1)
	assert.Equal(t, 2, kills[0].KillerID)
	assert.Equal(t, 1, kills[0].VictimID)
	assert.Equal(t, s1.Match().ID, kills[0].MatchID)
}

func TestHandoverWithoutLeaving_RespawnsOnce(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	h.join("bravo")
	s3 := h.join("charlie")
	h.pump()

	s1.ApplyDamage(3, 1, 100)
	h.pump()
	tank, _ := s3.Tank(3)
	require.False(t, tank.Alive())

	respawnsTo3 := map[int]int{}
	h.drop = func(from, to int, code protocol.Code) bool {
		if code == protocol.CodeTankRespawn && to == 3 {
			respawnsTo3[from]++
		}
		return false
	}
	require.True(t, h.room.SetMaster(2))
	h.pump()
	h.step(6 * time.Second)

	assert.Equal(t, map[int]int{2: 1}, respawnsTo3)
	assert.Zero(t, s1.sched.Len(), "demoted master keeps no respawn timers")
	tank, _ = s3.Tank(3)
	assert.True(t, tank.Alive())
}

func TestSelfDamageIsNotAttributed(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	h.join("bravo")
	h.pump()

	s1.ApplyDamage(1, 1, 150)
	h.pump()
	assert.Equal(t, map[int]int{1: 0, 2: 0}, s1.Scores())
	assert.Zero(t, h.killFeeds[1])
}

func TestSoloEnemiesUntilSomeoneJoins(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	h.join("alpha")
	h.pump()
	field := h.fields[1]

	h.step(5 * time.Second)
	assert.Equal(t, 1, field.Total(core.SpawnEnemy))
	h.step(5 * time.Second)
	h.step(5 * time.Second)
	assert.Equal(t, 2, field.Total(core.SpawnEnemy))

	h.join("bravo")
	h.pump()
	assert.Zero(t, field.Active(core.SpawnEnemy))
	h.step(10 * time.Second)
	assert.Equal(t, 2, field.Total(core.SpawnEnemy))
}

func TestExplicitEndAndWallets(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	s2 := h.join("bravo")
	h.pump()

	s2.AssociateWallet("0xabc")
	s2.End()
	h.pump()
	addr, ok := s1.Wallet(2)
	require.True(t, ok)
	assert.Equal(t, "0xabc", addr)
	assert.Equal(t, lifecycle.Running, s1.State(), "followers cannot end the match")

	s2.AddScore(2, 2)
	h.pump()
	s1.End()
	h.pump()
	r := res(t, s2)
	assert.Equal(t, 2, r.WinnerID)
	assert.Equal(t, 3, r.WinnerScore)
}

func TestFallbackAnnouncesWhenEchoIsLost(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	h.join("bravo")
	h.pump()

	h.drop = func(_, to int, code protocol.Code) bool {
		return code == protocol.CodeMatchEnd && to == 1
	}
	s1.End()
	h.pump()
	_, ok := s1.Result()
	assert.False(t, ok)

	h.step(2 * time.Second)
	r := res(t, s1)
	assert.Equal(t, 1, r.WinnerID)
	assert.Equal(t, 1, r.WinnerScore)
}

func TestWinnerKeepsAnnouncedScoreWhenBonusDeltaIsLost(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	h.join("alpha")
	s2 := h.join("bravo")
	h.pump()

	s2.AddScore(2, 3)
	h.pump()
	require.Equal(t, 3, s2.Scores()[2])

	h.drop = func(_, to int, code protocol.Code) bool {
		return code == protocol.CodeScoreDelta && to == 2
	}
	h.runUntil(180 * time.Second)

	r := res(t, s2)
	assert.Equal(t, 2, r.WinnerID)
	assert.Equal(t, 4, r.WinnerScore)
	assert.Equal(t, 4, s2.Scores()[2])

	own, ok := s2.OwnScore()
	require.True(t, ok)
	assert.Equal(t, 4, own.Score)
	assert.Equal(t, 1, own.MatchBonus)
	assert.True(t, own.Winner)

	s2.Close()
	finals := h.sinks[2].Export().FinalScores
	require.Len(t, finals, 1)
	assert.Equal(t, 4, finals[0].Score)
}

func TestLastDepartureEndsMatchWithoutSoloEnemies(t *testing.T) {
	cfg := testMatchConfig()
	cfg.EnemyInterval = 0
	h := newHarness(t, cfg)
	s1 := h.join("alpha")
	s2 := h.join("bravo")
	h.pump()

	s1.AddScore(1, 2)
	h.pump()
	require.NoError(t, s2.Leave())
	h.sessions = h.sessions[:1]
	h.pump()

	assert.Equal(t, lifecycle.Ended, s1.State())
	r := res(t, s1)
	assert.Equal(t, 1, r.WinnerID)
	assert.Equal(t, 3, r.WinnerScore)
	assert.True(t, s1.Match().Ended)
}

func TestResetDropsEverything(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	s1 := h.join("alpha")
	h.join("bravo")
	h.pump()
	s1.AddScore(1, 2)
	h.pump()

	s1.Reset()
	assert.Equal(t, lifecycle.NotStarted, s1.State())
	assert.Empty(t, s1.Scores())
	assert.Zero(t, s1.sched.Len())
	assert.Empty(t, s1.Participants())

	// events of the old match are ignored until the next Start
	h.step(5 * time.Second)
	assert.Empty(t, s1.Scores())
}

func TestUndecodableEventDropped(t *testing.T) {
	h := newHarness(t, testMatchConfig())
	h.join("alpha")
	s2 := h.join("bravo")
	h.pump()

	peer, ok := h.room.Peer(1)
	require.True(t, ok)
	require.NoError(t, peer.RaiseEvent(protocol.CodeScoreSnapshot, []byte{0xc1}, 2))
	require.NoError(t, peer.RaiseEvent(99, nil, 2))
	h.pump()
	assert.Equal(t, map[int]int{1: 0, 2: 0}, s2.Scores())
}

func TestRunLoop(t *testing.T) {
	cfg := testMatchConfig()
	cfg.Duration = 300 * time.Millisecond
	cfg.TimerSyncInterval = 50 * time.Millisecond
	cfg.SnapshotInterval = 50 * time.Millisecond
	cfg.WinnerFallback = 100 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond

	room := memory.NewRoom()
	var sessions []*Session
	for _, name := range []string{"alpha", "bravo"} {
		s, err := New(room.Join(name), Dependencies{
			Match:  cfg,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		require.NoError(t, err)
		defer s.Close()
		s.Start()
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go room.Run(ctx, 5*time.Millisecond)
	for _, s := range sessions {
		go func() { _ = s.Run(ctx) }()
	}

	sessions[1].AddScore(2, 2)
	require.Eventually(t, func() bool {
		_, ok0 := sessions[0].Result()
		_, ok1 := sessions[1].Result()
		return ok0 && ok1
	}, 2*time.Second, 10*time.Millisecond)

	for _, s := range sessions {
		r, _ := s.Result()
		assert.Equal(t, 2, r.WinnerID)
		assert.Equal(t, 3, r.WinnerScore)
	}
}
