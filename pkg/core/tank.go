package core

import "fmt"

// Vec2 is a position on the battlefield plane.
type Vec2 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// TankPhase is a step of the per-tank life cycle.
type TankPhase int

const (
	PhaseAlive TankPhase = iota
	PhaseDying
	PhaseDead
	PhaseRespawning
)

func (p TankPhase) String() string {
	switch p {
	case PhaseAlive:
		return "alive"
	case PhaseDying:
		return "dying"
	case PhaseDead:
		return "dead"
	case PhaseRespawning:
		return "respawning"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TankLifeState is the health and life phase of one participant's tank.
type TankLifeState struct {
	ParticipantID int       `json:"participantId"`
	Phase         TankPhase `json:"phase"`
	Health        float64   `json:"health"`
	MaxHealth     float64   `json:"maxHealth"`
	Position      Vec2      `json:"position"`
	SpawnIndex    int       `json:"spawnIndex"`
}

// Alive reports whether the tank can take damage.
func (t TankLifeState) Alive() bool {
	return t.Phase == PhaseAlive
}

// SpawnKind identifies what the master spawns on the field.
type SpawnKind int

const (
	SpawnCoin SpawnKind = iota + 1
	SpawnPowerUp
	SpawnEnemy
)

func (k SpawnKind) String() string {
	switch k {
	case SpawnCoin:
		return "coin"
	case SpawnPowerUp:
		return "powerup"
	case SpawnEnemy:
		return "enemy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SpawnRequest is a transient spawn order issued by the master.
type SpawnRequest struct {
	Kind     SpawnKind
	Sequence int
	Position Vec2
}
