// Package lifecycle drives match timing on the master: the countdown, timer
// sync broadcasts, snapshot cadence, coin and power-up spawns and the
// solo-enemy director.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tankclash/matchcore/internal/scheduler"
	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

const instrumentationName = "github.com/tankclash/matchcore/internal/lifecycle"

// Scheduler owners used by this package.
const (
	OwnerMatch = "match"
	OwnerSpawn = "spawn"
	OwnerSolo  = "solo"
)

var (
	keyTimerSync = scheduler.Key{Owner: OwnerMatch, Purpose: "timer_sync"}
	keySnapshot  = scheduler.Key{Owner: OwnerMatch, Purpose: "snapshot"}
	keyCoin      = scheduler.Key{Owner: OwnerSpawn, Purpose: "coin"}
	keyPowerUp   = scheduler.Key{Owner: OwnerSpawn, Purpose: "powerup"}
)

// State of the match lifecycle.
type State int

const (
	NotStarted State = iota
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the lifecycle timings.
type Config struct {
	Duration          time.Duration
	TimerSyncInterval time.Duration
	SnapshotInterval  time.Duration
	CoinInterval      time.Duration
	PowerUpInterval   time.Duration
	SoloGrace time.Duration
	// EnemyInterval paces solo enemies. Zero disables the solo director.
	EnemyInterval time.Duration
	// EndOnLastStanding ends the match when departures leave one
	// participant. It is implied when the solo director is disabled.
	EndOnLastStanding bool
}

func (c Config) endsOnLastStanding() bool {
	return c.EndOnLastStanding || c.EnemyInterval <= 0
}

// DefaultConfig returns the stock match timings.
func DefaultConfig() Config {
	return Config{
		Duration:          core.DefaultMatchDuration,
		TimerSyncInterval: 5 * time.Second,
		SnapshotInterval:  5 * time.Second,
		CoinInterval:      20 * time.Second,
		PowerUpInterval:   15 * time.Second,
		SoloGrace:         5 * time.Second,
		EnemyInterval:     8 * time.Second,
	}
}

// Spawner places transient objects on the field.
type Spawner interface {
	Spawn(req core.SpawnRequest) error
	DespawnAll(kind core.SpawnKind) int
}

// Hooks are called by the controller on the master.
type Hooks struct {
	// OnEnd runs once when the master ends the match.
	OnEnd func(reason core.EndReason)
	// OnSnapshot runs every snapshot interval.
	OnSnapshot func()
	// Place picks a position for a spawn. Optional.
	Place func(kind core.SpawnKind) core.Vec2
}

// Controller is the match state machine of one participant.
// It is not safe for concurrent use.
type Controller struct {
	cfg     Config
	auth    transport.Authority
	out     transport.Emitter
	sched   *scheduler.Scheduler
	spawner Spawner
	hooks   Hooks
	logger  *slog.Logger

	state State
	match core.MatchState
	seqs  map[core.SpawnKind]int
	// population is the last participant count seen
	population int

	enemies *EnemyDirector

	spawnFailed metric.Int64Counter
}

// New creates a controller in the NotStarted state.
func New(cfg Config, auth transport.Authority, out transport.Emitter, sched *scheduler.Scheduler,
	spawner Spawner, hooks Hooks, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	failed, err := otel.Meter(instrumentationName).Int64Counter(
		"lifecycle.spawn.failed",
		metric.WithDescription("Spawn calls that returned an error or panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating spawn failure counter: %w", err)
	}

	c := &Controller{
		cfg:         cfg,
		auth:        auth,
		out:         out,
		sched:       sched,
		spawner:     spawner,
		hooks:       hooks,
		logger:      logger,
		seqs:        make(map[core.SpawnKind]int),
		spawnFailed: failed,
	}
	c.enemies = newEnemyDirector(c)
	return c, nil
}

// Start enters Running on room join. The master stamps a new match and
// announces it; followers wait for timer syncs.
func (c *Controller) Start(now time.Time) {
	if c.state != NotStarted {
		return
	}
	c.state = Running
	c.match = core.MatchState{StartedAt: now, Duration: c.cfg.Duration}

	if !c.auth.IsMasterClient() {
		c.logger.Info("match joined as follower")
		return
	}

	c.match.ID = uuid.NewString()
	c.logger.Info("match started", "matchId", c.match.ID, "duration", c.cfg.Duration)
	c.out.Emit(c.announcement(), transport.TargetOthers)
	c.arm()
}

// announcement describes the current match to followers.
func (c *Controller) announcement() protocol.MatchStart {
	return protocol.MatchStart{
		MatchID:         c.match.ID,
		StartedAtMillis: c.match.StartedAt.UnixMilli(),
		DurationSeconds: int(c.match.Duration / time.Second),
	}
}

// Announce resends MatchStart and the current time left, used when a
// participant joins a running match.
func (c *Controller) Announce(now time.Time) {
	if c.state != Running || !c.auth.IsMasterClient() {
		return
	}
	c.out.Emit(c.announcement(), transport.TargetOthers)
	c.broadcastTimer(now)
}

func (c *Controller) arm() {
	c.sched.Every(keyTimerSync, c.cfg.TimerSyncInterval, c.broadcastTimer)
	if c.hooks.OnSnapshot != nil && c.cfg.SnapshotInterval > 0 {
		c.sched.Every(keySnapshot, c.cfg.SnapshotInterval, func(time.Time) { c.hooks.OnSnapshot() })
	}
	if c.cfg.CoinInterval > 0 {
		c.sched.Every(keyCoin, c.cfg.CoinInterval, func(time.Time) { c.spawn(core.SpawnCoin) })
	}
	if c.cfg.PowerUpInterval > 0 {
		c.sched.Every(keyPowerUp, c.cfg.PowerUpInterval, func(time.Time) { c.spawn(core.SpawnPowerUp) })
	}
}

func (c *Controller) disarm() {
	c.sched.CancelOwner(OwnerMatch)
	c.sched.CancelOwner(OwnerSpawn)
}

func (c *Controller) broadcastTimer(now time.Time) {
	left := c.match.TimeLeft(now)
	c.out.Emit(protocol.TimerSync{TimeLeft: float32(left.Seconds())}, transport.TargetOthers)
}

// Tick checks the countdown. Only the master ends the match on timeout.
func (c *Controller) Tick(now time.Time) {
	if c.state != Running || !c.auth.IsMasterClient() {
		return
	}
	if c.match.TimeLeft(now) <= 0 {
		c.End(core.EndTimeout)
	}
}

// HandleMatchStart adopts the match announced by the master.
func (c *Controller) HandleMatchStart(now time.Time, ev protocol.MatchStart) {
	if c.auth.IsMasterClient() || c.state == Ended {
		return
	}
	c.match.ID = ev.MatchID
	if ev.DurationSeconds > 0 {
		c.match.Duration = time.Duration(ev.DurationSeconds) * time.Second
	}
	if ev.StartedAtMillis > 0 {
		c.match.StartedAt = time.UnixMilli(ev.StartedAtMillis)
	}
	if c.state == NotStarted {
		c.state = Running
	}
}

// HandleTimerSync re-anchors the local countdown to the master's time left.
func (c *Controller) HandleTimerSync(now time.Time, ev protocol.TimerSync) {
	if c.auth.IsMasterClient() || c.state != Running {
		return
	}
	left := time.Duration(float64(ev.TimeLeft) * float64(time.Second))
	c.match.StartedAt = now.Add(-(c.match.Duration - left))
}

// OnMasterSwitched takes over timing when the local participant became
// master mid-match.
func (c *Controller) OnMasterSwitched(now time.Time) {
	if !c.auth.IsMasterClient() {
		c.disarm()
		c.enemies.stop()
		return
	}
	if c.state != Running {
		return
	}
	if c.match.ID == "" {
		c.match.ID = uuid.NewString()
	}
	c.logger.Info("took over match timing", "matchId", c.match.ID, "timeLeft", c.match.TimeLeft(now))
	c.arm()
	c.broadcastTimer(now)
	c.Tick(now)
}

// OnPopulationChanged reacts to joins and leaves.
func (c *Controller) OnPopulationChanged(count int) {
	prev := c.population
	c.population = count
	if c.state != Running || !c.auth.IsMasterClient() {
		return
	}
	if count <= 1 && prev > 1 && c.cfg.endsOnLastStanding() {
		c.End(core.EndLastStanding)
		return
	}
	c.enemies.onPopulation(count)
}

// End finishes the match on the master. It reports whether this call ended it.
func (c *Controller) End(reason core.EndReason) bool {
	if !c.auth.IsMasterClient() || c.state != Running {
		return false
	}
	c.finish(c.sched.Now())
	c.logger.Info("match ended", "matchId", c.match.ID, "reason", reason)
	if c.hooks.OnEnd != nil {
		c.hooks.OnEnd(reason)
	}
	return true
}

// MarkEnded latches Ended after the result was announced.
func (c *Controller) MarkEnded(now time.Time) {
	if c.state == Ended {
		return
	}
	c.finish(now)
}

func (c *Controller) finish(now time.Time) {
	c.state = Ended
	c.match.Ended = true
	c.match.EndedAt = now
	c.disarm()
	c.enemies.stop()
}

// Reset cancels every timer and returns to NotStarted.
func (c *Controller) Reset() {
	c.disarm()
	c.enemies.reset()
	c.state = NotStarted
	c.match = core.MatchState{}
	c.seqs = make(map[core.SpawnKind]int)
	c.population = 0
}

func (c *Controller) State() State {
	return c.state
}

// Match returns a copy of the match state.
func (c *Controller) Match() core.MatchState {
	return c.match
}

// TimeLeft returns the local countdown.
func (c *Controller) TimeLeft(now time.Time) time.Duration {
	if c.state == NotStarted {
		return c.cfg.Duration
	}
	if c.state == Ended {
		return 0
	}
	return c.match.TimeLeft(now)
}

// Enemies exposes the solo-enemy director.
func (c *Controller) Enemies() *EnemyDirector {
	return c.enemies
}

// spawn places one object. Failures are logged and counted; the cadence
// keeps its normal interval.
func (c *Controller) spawn(kind core.SpawnKind) {
	if !c.auth.IsMasterClient() || c.spawner == nil {
		return
	}
	c.seqs[kind]++
	req := core.SpawnRequest{Kind: kind, Sequence: c.seqs[kind]}
	if c.hooks.Place != nil {
		req.Position = c.hooks.Place(kind)
	}

	defer func() {
		if r := recover(); r != nil {
			c.recordSpawnFailure(kind, fmt.Errorf("spawn panic: %v", r))
		}
	}()
	if err := c.spawner.Spawn(req); err != nil {
		c.recordSpawnFailure(kind, err)
	}
}

func (c *Controller) recordSpawnFailure(kind core.SpawnKind, err error) {
	c.spawnFailed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	c.logger.Warn("spawn failed", "kind", kind, "error", err)
}
