// Package respawn runs the per-tank death and respawn cycle. Kill attribution
// and respawn timing belong to the master; other participants apply the
// replicated results.
package respawn

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/tankclash/matchcore/internal/scheduler"
	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

// OwnerRespawn is the scheduler owner of respawn tasks. The purpose is the
// participant id.
const OwnerRespawn = "respawn"

// Config holds tank settings.
type Config struct {
	MaxHealth    float64
	RespawnDelay time.Duration
}

func DefaultConfig() Config {
	return Config{MaxHealth: 100, RespawnDelay: 5 * time.Second}
}

// ScoreAdder receives kill points.
type ScoreAdder interface {
	AddScore(id, delta int) bool
}

// Hooks let the session observe the cycle. All are optional.
type Hooks struct {
	// OnHidden runs when a tank leaves the field.
	OnHidden func(id int)
	// OnKill runs on the master for an attributed kill.
	OnKill func(killerID, victimID int)
	// OnRespawn runs when a tank is back on the field.
	OnRespawn func(state core.TankLifeState)
}

// Coordinator tracks the life state of every tank. It is not safe for
// concurrent use.
type Coordinator struct {
	cfg    Config
	auth   transport.Authority
	out    transport.Emitter
	sched  *scheduler.Scheduler
	scores ScoreAdder
	picker *SpawnPicker
	hooks  Hooks
	logger *slog.Logger

	tanks map[int]*core.TankLifeState
}

func New(cfg Config, auth transport.Authority, out transport.Emitter, sched *scheduler.Scheduler,
	scores ScoreAdder, picker *SpawnPicker, hooks Hooks, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		auth:   auth,
		out:    out,
		sched:  sched,
		scores: scores,
		picker: picker,
		hooks:  hooks,
		logger: logger,
		tanks:  make(map[int]*core.TankLifeState),
	}
}

func respawnKey(id int) scheduler.Key {
	return scheduler.Key{Owner: OwnerRespawn, Purpose: strconv.Itoa(id)}
}

// Spawn places a fresh tank for id. The master broadcasts the position.
func (c *Coordinator) Spawn(id int) core.TankLifeState {
	if t, ok := c.tanks[id]; ok {
		return *t
	}
	pos, idx := c.picker.Pick(id)
	t := &core.TankLifeState{
		ParticipantID: id,
		Phase:         core.PhaseAlive,
		Health:        c.cfg.MaxHealth,
		MaxHealth:     c.cfg.MaxHealth,
		Position:      pos,
		SpawnIndex:    idx,
	}
	c.tanks[id] = t
	if c.auth.IsMasterClient() {
		c.out.Emit(protocol.TankRespawn{ParticipantID: id, Position: pos, SpawnIndex: idx}, transport.TargetOthers)
	}
	return *t
}

// ApplyDamage is the combat input. Non-masters report the hit to the master.
// It reports whether the hit changed a tank.
func (c *Coordinator) ApplyDamage(victimID, killerID int, amount float64) bool {
	if !c.auth.IsMasterClient() {
		c.out.Emit(protocol.TankDamage{VictimID: victimID, KillerID: killerID, Amount: amount}, transport.TargetMasterOnly)
		return false
	}
	t, ok := c.tanks[victimID]
	if !ok || !t.Alive() || !(amount > 0) {
		return false
	}

	t.Health -= amount
	if t.Health > 0 {
		c.out.Emit(protocol.TankState{ParticipantID: victimID, Phase: t.Phase, Health: t.Health}, transport.TargetOthers)
		return true
	}
	c.kill(t, killerID)
	return true
}

// HandleDamage applies a hit reported by another participant.
func (c *Coordinator) HandleDamage(senderID int, ev protocol.TankDamage) bool {
	if !c.auth.IsMasterClient() {
		return false
	}
	c.logger.Debug("damage report", "sender", senderID, "victim", ev.VictimID, "killer", ev.KillerID, "amount", ev.Amount)
	return c.ApplyDamage(ev.VictimID, ev.KillerID, ev.Amount)
}

func (c *Coordinator) kill(t *core.TankLifeState, killerID int) {
	victimID := t.ParticipantID
	t.Health = 0
	t.Phase = core.PhaseDying
	// dying resolves at once: the tank leaves the field
	t.Phase = core.PhaseDead
	if c.hooks.OnHidden != nil {
		c.hooks.OnHidden(victimID)
	}

	if _, known := c.tanks[killerID]; known && killerID > 0 && killerID != victimID {
		c.scores.AddScore(killerID, 1)
		c.out.Emit(protocol.KillFeed{KillerID: killerID, VictimID: victimID}, transport.TargetAll)
		if c.hooks.OnKill != nil {
			c.hooks.OnKill(killerID, victimID)
		}
		c.logger.Info("tank destroyed", "victim", victimID, "killer", killerID)
	} else {
		c.logger.Info("tank destroyed without attribution", "victim", victimID, "killer", killerID)
	}
	c.out.Emit(protocol.TankState{ParticipantID: victimID, Phase: core.PhaseDead}, transport.TargetOthers)

	c.scheduleRespawn(t)
}

func (c *Coordinator) scheduleRespawn(t *core.TankLifeState) {
	t.Phase = core.PhaseRespawning
	id := t.ParticipantID
	c.sched.After(respawnKey(id), c.cfg.RespawnDelay, func(time.Time) {
		c.respawn(id)
	})
}

func (c *Coordinator) respawn(id int) {
	if !c.auth.IsMasterClient() {
		return
	}
	t, ok := c.tanks[id]
	if !ok || t.Phase != core.PhaseRespawning {
		return
	}
	pos, idx := c.picker.Pick(id)
	t.Phase = core.PhaseAlive
	t.Health = t.MaxHealth
	t.Position = pos
	t.SpawnIndex = idx
	c.out.Emit(protocol.TankRespawn{ParticipantID: id, Position: pos, SpawnIndex: idx}, transport.TargetOthers)
	if c.hooks.OnRespawn != nil {
		c.hooks.OnRespawn(*t)
	}
}

// ApplyState mirrors the master's view of one tank.
func (c *Coordinator) ApplyState(ev protocol.TankState) {
	if c.auth.IsMasterClient() {
		return
	}
	t, ok := c.tanks[ev.ParticipantID]
	if !ok {
		return
	}
	wasAlive := t.Alive()
	t.Phase = ev.Phase
	t.Health = ev.Health
	if wasAlive && !t.Alive() && c.hooks.OnHidden != nil {
		c.hooks.OnHidden(t.ParticipantID)
	}
}

// ApplyRespawn places a tank where the master respawned it.
func (c *Coordinator) ApplyRespawn(ev protocol.TankRespawn) {
	if c.auth.IsMasterClient() {
		return
	}
	t, ok := c.tanks[ev.ParticipantID]
	if !ok {
		t = &core.TankLifeState{ParticipantID: ev.ParticipantID, MaxHealth: c.cfg.MaxHealth}
		c.tanks[ev.ParticipantID] = t
	}
	t.Phase = core.PhaseAlive
	t.Health = t.MaxHealth
	t.Position = ev.Position
	t.SpawnIndex = ev.SpawnIndex
	c.picker.Remember(ev.ParticipantID, ev.SpawnIndex)
	if c.hooks.OnRespawn != nil {
		c.hooks.OnRespawn(*t)
	}
}

// AdoptPending schedules respawns for tanks the previous master left down.
func (c *Coordinator) AdoptPending() int {
	if !c.auth.IsMasterClient() {
		return 0
	}
	n := 0
	for _, id := range c.ids() {
		t := c.tanks[id]
		if t.Alive() || c.sched.Pending(respawnKey(id)) {
			continue
		}
		c.scheduleRespawn(t)
		n++
	}
	return n
}

// Demote drops the respawns this participant scheduled as master. The tanks
// stay down until the new master respawns them.
func (c *Coordinator) Demote() int {
	return c.sched.CancelOwner(OwnerRespawn)
}

// Remove forgets the tank of a departed participant.
func (c *Coordinator) Remove(id int) {
	c.sched.Cancel(respawnKey(id))
	delete(c.tanks, id)
	c.picker.Forget(id)
}

// Reset drops every tank and pending respawn.
func (c *Coordinator) Reset() {
	c.sched.CancelOwner(OwnerRespawn)
	c.tanks = make(map[int]*core.TankLifeState)
	c.picker.Reset()
}

// State returns a copy of the tank of id.
func (c *Coordinator) State(id int) (core.TankLifeState, bool) {
	t, ok := c.tanks[id]
	if !ok {
		return core.TankLifeState{}, false
	}
	return *t, true
}

// States returns every tank ordered by participant id.
func (c *Coordinator) States() []core.TankLifeState {
	out := make([]core.TankLifeState, 0, len(c.tanks))
	for _, id := range c.ids() {
		out = append(out, *c.tanks[id])
	}
	return out
}

func (c *Coordinator) ids() []int {
	ids := make([]int, 0, len(c.tanks))
	for id := range c.tanks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
