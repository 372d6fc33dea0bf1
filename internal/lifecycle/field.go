package lifecycle

import (
	"sync"

	"github.com/tankclash/matchcore/pkg/core"
)

// Field is an in-memory Spawner keeping track of what is on the battlefield.
type Field struct {
	mu     sync.Mutex
	active map[core.SpawnKind][]core.SpawnRequest
	total  map[core.SpawnKind]int
}

func NewField() *Field {
	return &Field{
		active: make(map[core.SpawnKind][]core.SpawnRequest),
		total:  make(map[core.SpawnKind]int),
	}
}

func (f *Field) Spawn(req core.SpawnRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[req.Kind] = append(f.active[req.Kind], req)
	f.total[req.Kind]++
	return nil
}

func (f *Field) DespawnAll(kind core.SpawnKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.active[kind])
	delete(f.active, kind)
	return n
}

// Active returns how many objects of kind are on the field.
func (f *Field) Active(kind core.SpawnKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active[kind])
}

// Total returns how many objects of kind were ever spawned.
func (f *Field) Total(kind core.SpawnKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total[kind]
}
