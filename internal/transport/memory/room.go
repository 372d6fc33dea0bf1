// Package memory is an in-process room transport. Deliveries are queued and
// handed to listeners by Flush, so tests control exactly when events land.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

// Filter decides whether an event from one actor reaches another.
// Returning false drops that single delivery.
type Filter func(from, to int, code protocol.Code) bool

type delivery struct {
	to int
	fn func(l transport.Listener)
}

// Room is a shared room. The first joiner is master; when the master leaves
// the lowest remaining actor number takes over.
type Room struct {
	mu      sync.Mutex
	nextID  int
	peers   map[int]*Peer
	order   []int
	master  int
	filter  Filter
	pending []delivery
}

// NewRoom creates an empty room.
func NewRoom() *Room {
	return &Room{nextID: 1, peers: make(map[int]*Peer)}
}

// Join adds a participant and returns its connection.
func (r *Room) Join(name string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	p := &Peer{room: r, id: id, name: name}
	r.peers[id] = p
	r.order = append(r.order, id)
	if r.master == 0 {
		r.master = id
	}

	joined := r.participantLocked(id)
	for _, other := range r.order {
		if other == id {
			continue
		}
		r.pending = append(r.pending, delivery{to: other, fn: func(l transport.Listener) {
			l.OnParticipantJoined(joined)
		}})
	}
	return p
}

// Peer returns the connection of a joined actor.
func (r *Room) Peer(id int) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

// Master returns the current master actor number, 0 when empty.
func (r *Room) Master() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.master
}

// SetMaster hands the master role to id.
func (r *Room) SetMaster(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok || r.master == id {
		return false
	}
	r.master = id
	r.announceMasterLocked()
	return true
}

// SetFilter installs a delivery filter; nil removes it.
func (r *Room) SetFilter(f Filter) {
	r.mu.Lock()
	r.filter = f
	r.mu.Unlock()
}

// Pending returns the number of queued deliveries.
func (r *Room) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush delivers queued events in order until the queue is empty and
// returns how many were delivered.
func (r *Room) Flush() int {
	n := 0
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return n
		}
		batch := r.pending
		r.pending = nil
		listeners := make(map[int]transport.Listener, len(r.peers))
		for id, p := range r.peers {
			if p.listener != nil {
				listeners[id] = p.listener
			}
		}
		r.mu.Unlock()

		for _, d := range batch {
			if l, ok := listeners[d.to]; ok {
				d.fn(l)
				n++
			}
		}
	}
}

// Run flushes every interval until ctx is done.
func (r *Room) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

func (r *Room) participantLocked(id int) core.Participant {
	p := r.peers[id]
	return core.Participant{ID: id, Name: p.name, IsMaster: id == r.master}
}

func (r *Room) participantsLocked() []core.Participant {
	out := make([]core.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participantLocked(id))
	}
	return out
}

func (r *Room) announceMasterLocked() {
	master := r.participantLocked(r.master)
	for _, id := range r.order {
		r.pending = append(r.pending, delivery{to: id, fn: func(l transport.Listener) {
			l.OnMasterClientSwitched(master)
		}})
	}
}

func (r *Room) raise(from int, code protocol.Code, payload []byte, target transport.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[from]; !ok {
		return transport.ErrNotJoined
	}

	var to []int
	switch target {
	case transport.TargetAll:
		to = r.order
	case transport.TargetOthers:
		for _, id := range r.order {
			if id != from {
				to = append(to, id)
			}
		}
	case transport.TargetMasterOnly:
		to = []int{r.master}
	}

	data := slices.Clone(payload)
	for _, id := range to {
		if r.filter != nil && !r.filter(from, id, code) {
			continue
		}
		r.pending = append(r.pending, delivery{to: id, fn: func(l transport.Listener) {
			l.OnEvent(code, data, from)
		}})
	}
	return nil
}

func (r *Room) leave(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return transport.ErrNotJoined
	}

	left := r.participantLocked(id)
	delete(r.peers, id)
	r.order = slices.DeleteFunc(r.order, func(v int) bool { return v == id })
	// drop what was still queued for the leaver
	r.pending = slices.DeleteFunc(r.pending, func(d delivery) bool { return d.to == id })
	p.left = true

	for _, other := range r.order {
		r.pending = append(r.pending, delivery{to: other, fn: func(l transport.Listener) {
			l.OnParticipantLeft(left)
		}})
	}

	if r.master == id {
		r.master = 0
		if len(r.order) > 0 {
			r.master = slices.Min(r.order)
			r.announceMasterLocked()
		}
	}
	return nil
}

// Peer is one participant's connection to a Room.
type Peer struct {
	room     *Room
	id       int
	name     string
	listener transport.Listener
	left     bool
}

var _ transport.Transport = (*Peer)(nil)

func (p *Peer) LocalID() int { return p.id }

func (p *Peer) IsMasterClient() bool {
	p.room.mu.Lock()
	defer p.room.mu.Unlock()
	return !p.left && p.room.master == p.id
}

func (p *Peer) CurrentParticipants() []core.Participant {
	p.room.mu.Lock()
	defer p.room.mu.Unlock()
	if p.left {
		return nil
	}
	return p.room.participantsLocked()
}

func (p *Peer) RaiseEvent(code protocol.Code, payload []byte, target transport.Target) error {
	return p.room.raise(p.id, code, payload, target)
}

// Subscribe sets the listener. Deliveries flushed while none is set are lost.
func (p *Peer) Subscribe(l transport.Listener) {
	p.room.mu.Lock()
	p.listener = l
	p.room.mu.Unlock()
}

func (p *Peer) Leave() error {
	return p.room.leave(p.id)
}
