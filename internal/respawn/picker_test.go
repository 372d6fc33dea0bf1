package respawn

import (
	"math/rand"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/geo"
	"github.com/tankclash/matchcore/pkg/core"
)

// scriptedRand replays Intn results and returns 0 for Float64.
type scriptedRand struct {
	ints  []int
	calls int
}

func (r *scriptedRand) Intn(n int) int {
	v := r.ints[min(r.calls, len(r.ints)-1)]
	r.calls++
	return v % n
}

func (r *scriptedRand) Float64() float64 { return 0 }

func corners(t *testing.T) []geom.Point {
	t.Helper()
	points, err := geo.ParsePoints([]string{"-8,-4", "8,-4", "-8,4", "8,4"})
	require.NoError(t, err)
	return points
}

func TestPick_ResamplesRepeat(t *testing.T) {
	rng := &scriptedRand{ints: []int{2, 2, 2, 1}}
	p := NewSpawnPicker(corners(t), 0, rng)

	_, first := p.Pick(1)
	pos, second := p.Pick(1)

	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, core.Vec2{X: 8, Y: -4}, pos)
	assert.Equal(t, 4, rng.calls)
}

func TestPick_ResamplingIsBounded(t *testing.T) {
	rng := &scriptedRand{ints: []int{3}}
	p := NewSpawnPicker(corners(t), 0, rng)

	p.Pick(1)
	_, idx := p.Pick(1)

	assert.Equal(t, 3, idx)
	assert.Equal(t, 1+1+maxResamples, rng.calls)
}

func TestPick_PerParticipantHistory(t *testing.T) {
	rng := &scriptedRand{ints: []int{0}}
	p := NewSpawnPicker(corners(t), 0, rng)

	p.Pick(1)
	_, idx := p.Pick(2)

	assert.Equal(t, 0, idx)
	assert.Equal(t, 2, rng.calls, "no resampling for a different participant")
}

func TestPick_SinglePoint(t *testing.T) {
	points, err := geo.ParsePoints([]string{"1,1"})
	require.NoError(t, err)
	p := NewSpawnPicker(points, 0, rand.New(rand.NewSource(1)))

	p.Pick(1)
	pos, idx := p.Pick(1)

	assert.Equal(t, 0, idx)
	assert.Equal(t, core.Vec2{X: 1, Y: 1}, pos)
}

func TestPick_NoPoints(t *testing.T) {
	p := NewSpawnPicker(nil, 1.5, rand.New(rand.NewSource(1)))

	pos, idx := p.Pick(1)

	assert.Equal(t, -1, idx)
	assert.Equal(t, core.Vec2{}, pos)
}

func TestPick_AvoidsRepeatsWithRealRand(t *testing.T) {
	p := NewSpawnPicker(corners(t), 1.5, rand.New(rand.NewSource(42)))

	_, prev := p.Pick(7)
	repeats := 0
	for i := 0; i < 100; i++ {
		pos, idx := p.Pick(7)
		if idx == prev {
			repeats++
		}
		prev = idx
		center := geo.ToVec(p.points[idx])
		assert.LessOrEqual(t, geo.Distance(pos, center), 1.5)
	}
	assert.LessOrEqual(t, repeats, 1)
}

func TestRememberForgetReset(t *testing.T) {
	rng := &scriptedRand{ints: []int{1, 1, 2}}
	p := NewSpawnPicker(corners(t), 0, rng)

	p.Remember(5, 1)
	_, idx := p.Pick(5)
	assert.Equal(t, 2, idx)

	p.Reset()
	rng.ints, rng.calls = []int{2}, 0
	_, idx = p.Pick(5)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 1, rng.calls)
}
