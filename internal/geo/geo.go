// Package geo parses and manipulates battlefield spawn points.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/tankclash/matchcore/pkg/core"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ParsePoint parses "x,y" into a planar point. Non-finite coordinates are
// rejected.
func ParsePoint(coords string) (geom.Point, error) {
	xs, ys, ok := strings.Cut(coords, ",")
	if !ok {
		return geom.Point{}, ErrInvalidCoordinates
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if errX != nil || errY != nil {
		return geom.Point{}, ErrInvalidCoordinates
	}
	return newPoint(x, y)
}

func newPoint(x, y float64) (geom.Point, error) {
	p, err := geom.XY{X: x, Y: y}.AsPoint()
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return p, nil
}

// ParsePoints parses a list of "x,y" strings, stopping at the first bad one.
func ParsePoints(coords []string) ([]geom.Point, error) {
	points := make([]geom.Point, 0, len(coords))
	for _, c := range coords {
		p, err := ParsePoint(c)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// FromVec converts a game position to a point.
func FromVec(v core.Vec2) (geom.Point, error) {
	return newPoint(v.X, v.Y)
}

// ToVec converts a point to a game position. Empty points map to the origin.
func ToVec(p geom.Point) core.Vec2 {
	xy, ok := p.XY()
	if !ok {
		return core.Vec2{}
	}
	return core.Vec2{X: xy.X, Y: xy.Y}
}

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Jitter returns a position uniformly spread within radius of p.
func Jitter(p geom.Point, radius float64, rng Source) core.Vec2 {
	v := ToVec(p)
	if radius <= 0 || rng == nil {
		return v
	}
	angle := rng.Float64() * 2 * math.Pi
	dist := radius * math.Sqrt(rng.Float64())
	return core.Vec2{X: v.X + dist*math.Cos(angle), Y: v.Y + dist*math.Sin(angle)}
}

// Distance between two positions.
func Distance(a, b core.Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
