package respawn

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/tankclash/matchcore/internal/geo"
	"github.com/tankclash/matchcore/pkg/core"
)

// maxResamples bounds the attempts to avoid repeating the previous spawn point.
const maxResamples = 8

// Rand is the randomness the picker needs. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// SpawnPicker chooses spawn points, avoiding back-to-back repeats per participant.
type SpawnPicker struct {
	points []geom.Point
	radius float64
	rng    Rand
	last   map[int]int
}

func NewSpawnPicker(points []geom.Point, jitterRadius float64, rng Rand) *SpawnPicker {
	return &SpawnPicker{
		points: points,
		radius: jitterRadius,
		rng:    rng,
		last:   make(map[int]int),
	}
}

// Pick returns a jittered position and the spawn index used for id.
// Without spawn points it returns the origin and -1.
func (p *SpawnPicker) Pick(id int) (core.Vec2, int) {
	n := len(p.points)
	if n == 0 {
		return core.Vec2{}, -1
	}
	idx := p.rng.Intn(n)
	if prev, ok := p.last[id]; ok && n > 1 {
		for i := 0; idx == prev && i < maxResamples; i++ {
			idx = p.rng.Intn(n)
		}
	}
	p.last[id] = idx
	return geo.Jitter(p.points[idx], p.radius, p.rng), idx
}

// Place returns a random jittered spawn position for field objects.
func (p *SpawnPicker) Place(core.SpawnKind) core.Vec2 {
	if len(p.points) == 0 {
		return core.Vec2{}
	}
	return geo.Jitter(p.points[p.rng.Intn(len(p.points))], p.radius, p.rng)
}

// Remember records a spawn index chosen elsewhere.
func (p *SpawnPicker) Remember(id, idx int) {
	if idx >= 0 {
		p.last[id] = idx
	}
}

func (p *SpawnPicker) Forget(id int) {
	delete(p.last, id)
}

func (p *SpawnPicker) Reset() {
	p.last = make(map[int]int)
}

// Len returns the number of spawn points.
func (p *SpawnPicker) Len() int {
	return len(p.points)
}
