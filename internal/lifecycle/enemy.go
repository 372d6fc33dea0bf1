package lifecycle

import (
	"time"

	"github.com/tankclash/matchcore/internal/scheduler"
	"github.com/tankclash/matchcore/pkg/core"
)

var (
	keySoloGrace = scheduler.Key{Owner: OwnerSolo, Purpose: "grace"}
	keySoloEnemy = scheduler.Key{Owner: OwnerSolo, Purpose: "enemy"}
)

// DirectorState is the solo-enemy mode.
type DirectorState int

const (
	Idle DirectorState = iota
	SoloSpawning
)

func (s DirectorState) String() string {
	if s == SoloSpawning {
		return "solo_spawning"
	}
	return "idle"
}

// EnemyDirector spawns AI enemies while a single participant is left in a
// running match. The first enemy comes after a grace delay.
type EnemyDirector struct {
	c     *Controller
	state DirectorState
}

func newEnemyDirector(c *Controller) *EnemyDirector {
	return &EnemyDirector{c: c}
}

func (d *EnemyDirector) State() DirectorState {
	return d.state
}

func (d *EnemyDirector) onPopulation(count int) {
	if d.c.cfg.EnemyInterval <= 0 {
		return
	}
	switch {
	case count <= 1 && d.state == Idle:
		d.begin()
	case count > 1 && d.state == SoloSpawning:
		d.stop()
	}
}

func (d *EnemyDirector) begin() {
	d.state = SoloSpawning
	d.c.logger.Info("solo mode armed", "grace", d.c.cfg.SoloGrace)
	d.c.sched.After(keySoloGrace, d.c.cfg.SoloGrace, func(time.Time) {
		d.c.spawn(core.SpawnEnemy)
		d.c.sched.Every(keySoloEnemy, d.c.cfg.EnemyInterval, func(time.Time) {
			d.c.spawn(core.SpawnEnemy)
		})
	})
}

// stop cancels solo timers and removes every enemy.
func (d *EnemyDirector) stop() {
	if d.state == Idle {
		return
	}
	d.state = Idle
	d.c.sched.CancelOwner(OwnerSolo)
	if d.c.spawner != nil {
		n := d.c.spawner.DespawnAll(core.SpawnEnemy)
		d.c.logger.Info("solo mode stopped", "despawned", n)
	}
}

func (d *EnemyDirector) reset() {
	d.c.sched.CancelOwner(OwnerSolo)
	d.state = Idle
}
