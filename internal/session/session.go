// Package session wires one participant's match core together: transport,
// event routing, timers, the score ledger, lifecycle, respawns, winner
// announcement and the score sink.
//
// All match state is owned by one loop. Transport callbacks and the exported
// actions only enqueue work; Drain and Tick run it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tankclash/matchcore/internal/cache"
	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/dispatcher"
	"github.com/tankclash/matchcore/internal/geo"
	"github.com/tankclash/matchcore/internal/ledger"
	"github.com/tankclash/matchcore/internal/lifecycle"
	"github.com/tankclash/matchcore/internal/matchctx"
	"github.com/tankclash/matchcore/internal/queue"
	"github.com/tankclash/matchcore/internal/respawn"
	"github.com/tankclash/matchcore/internal/scheduler"
	"github.com/tankclash/matchcore/internal/storage"
	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/internal/winner"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

const defaultTickInterval = 100 * time.Millisecond

// Hooks let the game observe the match. All are optional and run on the
// session loop.
type Hooks struct {
	// OnResult runs once per match with the announced result and the local
	// participant's submitted score.
	OnResult func(result core.MatchResult, own core.FinalScore)
	// OnKillFeed runs for every kill feed entry.
	OnKillFeed func(killerID, victimID int)
	// OnHidden runs when a tank leaves the field.
	OnHidden func(id int)
	// OnRespawn runs when a tank is back on the field.
	OnRespawn func(state core.TankLifeState)
}

// Dependencies holds what a session needs besides its transport.
type Dependencies struct {
	Match config.MatchConfig
	// Clock defaults to the system clock.
	Clock scheduler.Clock
	// Rand drives spawn point picks. Defaults to a time-seeded source.
	Rand respawn.Rand
	// Sink receives match records. Optional.
	Sink storage.Sink
	// Spawner places coins, power-ups and enemies. Defaults to a lifecycle.Field.
	Spawner lifecycle.Spawner
	// Context is updated with the match identity for log enrichment. Optional.
	Context *matchctx.Context
	Hooks   Hooks
	Logger  *slog.Logger
	// EventLogger receives event routing logs. Defaults to Logger.
	EventLogger dispatcher.Logger
}

// Session is one participant's view of a match.
type Session struct {
	tr     transport.Transport
	deps   Dependencies
	clock  scheduler.Clock
	tick   time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	inbox     *queue.Queue[func()]
	notify    chan struct{}
	events    *dispatcher.Dispatcher
	sched     *scheduler.Scheduler
	directory *cache.Directory
	ledger    *ledger.Ledger
	lifecycle *lifecycle.Controller
	respawn   *respawn.Coordinator
	winner    *winner.Announcer
	picker    *respawn.SpawnPicker

	joined  bool
	matchID string
	own     *core.FinalScore
}

// New builds a session on a joined transport and subscribes to it. Call
// Start to enter the match.
func New(tr transport.Transport, deps Dependencies) (*Session, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = scheduler.SystemClock
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Spawner == nil {
		deps.Spawner = lifecycle.NewField()
	}
	if deps.Context == nil {
		deps.Context = matchctx.NewContext("")
	}
	cfg := withDefaults(deps.Match)
	deps.Match = cfg

	points, err := geo.ParsePoints(cfg.SpawnPoints)
	if err != nil {
		return nil, fmt.Errorf("parsing spawn points: %w", err)
	}

	logger := deps.Logger.With("component", "session", "actor", tr.LocalID())
	s := &Session{
		tr:        tr,
		deps:      deps,
		clock:     deps.Clock,
		tick:      cfg.TickInterval,
		logger:    logger,
		inbox:     queue.New[func()](0),
		notify:    make(chan struct{}, 1),
		sched:     scheduler.New(deps.Clock),
		directory: cache.NewDirectory(),
		picker:    respawn.NewSpawnPicker(points, cfg.JitterRadius, deps.Rand),
	}
	out := transport.EmitterFunc(s.emit)

	var eventLog dispatcher.Logger = logger
	if deps.EventLogger != nil {
		eventLog = deps.EventLogger
	}
	s.events, err = dispatcher.New(eventLog)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	s.ledger, err = ledger.New(tr, out, logger.With("component", "ledger"))
	if err != nil {
		return nil, err
	}
	s.lifecycle, err = lifecycle.New(lifecycleConfig(cfg), tr, out, s.sched, deps.Spawner, lifecycle.Hooks{
		OnEnd:      s.onEnd,
		OnSnapshot: s.ledger.BroadcastSnapshot,
		Place:      s.picker.Place,
	}, logger.With("component", "lifecycle"))
	if err != nil {
		return nil, err
	}
	s.respawn = respawn.New(respawn.Config{MaxHealth: cfg.MaxHealth, RespawnDelay: cfg.RespawnDelay},
		tr, out, s.sched, s.ledger, s.picker, respawn.Hooks{
			OnHidden:  deps.Hooks.OnHidden,
			OnKill:    s.onKill,
			OnRespawn: deps.Hooks.OnRespawn,
		}, logger.With("component", "respawn"))
	s.winner = winner.NewAnnouncer(tr, out, s.sched, s.ledger, s.directory, cfg.WinnerFallback,
		s.onResult, logger.With("component", "winner"))

	s.registerHandlers()
	tr.Subscribe(&listener{s: s})
	return s, nil
}

func withDefaults(cfg config.MatchConfig) config.MatchConfig {
	def := lifecycle.DefaultConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.TimerSyncInterval <= 0 {
		cfg.TimerSyncInterval = def.TimerSyncInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MaxHealth <= 0 {
		cfg.MaxHealth = respawn.DefaultConfig().MaxHealth
	}
	if cfg.RespawnDelay <= 0 {
		cfg.RespawnDelay = respawn.DefaultConfig().RespawnDelay
	}
	return cfg
}

func lifecycleConfig(cfg config.MatchConfig) lifecycle.Config {
	return lifecycle.Config{
		Duration:          cfg.Duration,
		TimerSyncInterval: cfg.TimerSyncInterval,
		SnapshotInterval:  cfg.SnapshotInterval,
		CoinInterval:      cfg.CoinInterval,
		PowerUpInterval:   cfg.PowerUpInterval,
		SoloGrace:         cfg.SoloGrace,
		EnemyInterval:     cfg.EnemyInterval,
		EndOnLastStanding: cfg.EndOnLastStanding,
	}
}

// emit encodes and raises an event. A failed raise is a transient loss.
func (s *Session) emit(e protocol.Event, target transport.Target) {
	code, payload, err := protocol.Encode(e)
	if err != nil {
		s.logger.Error("encode failed", "code", e.Code(), "error", err)
		return
	}
	if err := s.tr.RaiseEvent(code, payload, target); err != nil {
		s.logger.Warn("raise failed", "code", code, "target", target, "error", err)
	}
}

// enqueue schedules fn on the session loop.
func (s *Session) enqueue(fn func()) {
	s.inbox.Push(fn)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Start enters the match: the participant directory is loaded from the
// transport and the lifecycle starts.
func (s *Session) Start() {
	s.enqueue(s.onJoined)
}

// Run drives the session until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
			s.Drain()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Drain runs queued work and returns how many items ran.
func (s *Session) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked()
}

func (s *Session) drainLocked() int {
	n := 0
	for !s.inbox.Empty() {
		for _, fn := range s.inbox.Drain() {
			fn()
			n++
		}
	}
	return n
}

// Tick runs queued work, then due timers and the countdown check.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
	now := s.clock.Now()
	s.sched.Advance(now)
	s.lifecycle.Tick(now)
}

// AddScore changes a score through the ledger.
func (s *Session) AddScore(id, delta int) {
	s.enqueue(func() { s.ledger.AddScore(id, delta) })
}

// ApplyDamage feeds a combat hit into the respawn coordinator.
func (s *Session) ApplyDamage(victimID, killerID int, amount float64) {
	s.enqueue(func() { s.respawn.ApplyDamage(victimID, killerID, amount) })
}

// AssociateWallet broadcasts the local participant's wallet address.
func (s *Session) AssociateWallet(address string) {
	s.enqueue(func() {
		id := s.tr.LocalID()
		s.directory.SetWallet(id, address)
		s.emit(protocol.WalletAssociation{ParticipantID: id, Address: address}, transport.TargetOthers)
	})
}

// End asks the lifecycle to end the match. Only the master can.
func (s *Session) End() {
	s.enqueue(func() { s.lifecycle.End(core.EndExplicit) })
}

// Leave resets every component and leaves the room.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
	s.resetLocked()
	return s.tr.Leave()
}

// Reset cancels every timer and clears all match state. Pending timers of
// the previous match never fire afterwards.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.sched.CancelAll()
	s.ledger.Reset()
	s.lifecycle.Reset()
	s.respawn.Reset()
	s.winner.Reset()
	s.directory.Reset()
	s.deps.Context.Clear()
	s.inbox.Drain()
	s.joined = false
	s.matchID = ""
	s.own = nil
}

// Close waits until queued sink writes are done. The sink itself is owned by
// the caller.
func (s *Session) Close() {
	s.events.Close()
}

// LocalID returns the local actor number.
func (s *Session) LocalID() int {
	return s.tr.LocalID()
}

// Scores returns a copy of the local score view.
func (s *Session) Scores() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Scores()
}

// State returns the lifecycle state.
func (s *Session) State() lifecycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.State()
}

// Match returns the local match state.
func (s *Session) Match() core.MatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.Match()
}

// TimeLeft returns the local countdown.
func (s *Session) TimeLeft() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.TimeLeft(s.clock.Now())
}

// Result returns the announced result, if any.
func (s *Session) Result() (core.MatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner.Result()
}

// OwnScore returns the final score this participant submitted.
func (s *Session) OwnScore() (core.FinalScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.own == nil {
		return core.FinalScore{}, false
	}
	return *s.own, true
}

// Tank returns the local copy of a tank.
func (s *Session) Tank(id int) (core.TankLifeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respawn.State(id)
}

// Participants lists the room in actor order.
func (s *Session) Participants() []core.Participant {
	return s.directory.List()
}

// Wallet returns the wallet a participant associated, if any.
func (s *Session) Wallet(id int) (string, bool) {
	return s.directory.Wallet(id)
}
