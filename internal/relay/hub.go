package relay

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

// target values, mirrored from the transport package
const (
	targetAll        = 0
	targetMasterOnly = 1
	targetOthers     = 2
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrRoomUnknown = errors.New("unknown room")
)

// member is one connected player. send is drained by the connection's
// write pump. The hub closes send when it evicts the member.
type member struct {
	id      int
	name    string
	send    chan []byte
	evicted bool
}

type room struct {
	id      string
	nextID  int
	members map[int]*member
	order   []int
	master  int
}

func (r *room) participant(id int) core.Participant {
	return core.Participant{ID: id, Name: r.members[id].name, IsMaster: id == r.master}
}

func (r *room) participants() []core.Participant {
	out := make([]core.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participant(id))
	}
	return out
}

// Hub holds the rooms. All room state is guarded by one mutex; frames are
// queued on member channels and never written under it.
type Hub struct {
	mu         sync.Mutex
	rooms      map[string]*room
	maxPlayers int
	logger     *slog.Logger
	metrics    *metrics
}

// NewHub creates an empty hub.
func NewHub(maxPlayers int, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	return &Hub{
		rooms:      make(map[string]*room),
		maxPlayers: maxPlayers,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Create registers an empty room.
func (h *Hub) Create(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[id]; !ok {
		h.rooms[id] = &room{id: id, nextID: 1, members: make(map[int]*member)}
	}
}

// Exists reports whether a room is registered.
func (h *Hub) Exists(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[id]
	return ok
}

// Size returns the number of members in a room.
func (h *Hub) Size(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return len(r.order)
	}
	return 0
}

// Join adds a member to a room and sends it the joined frame.
func (h *Hub) Join(roomID, name string, send chan []byte) (*member, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return nil, ErrRoomUnknown
	}
	if h.maxPlayers > 0 && len(r.order) >= h.maxPlayers {
		return nil, ErrRoomFull
	}

	m := &member{id: r.nextID, name: name, send: send}
	r.nextID++
	r.members[m.id] = m
	r.order = append(r.order, m.id)
	if r.master == 0 {
		r.master = m.id
	}

	self := r.participant(m.id)
	h.deliver(m, protocol.Frame{
		Type:         protocol.FrameJoined,
		Room:         roomID,
		Self:         &self,
		Participants: r.participants(),
		MasterID:     r.master,
	})
	h.broadcast(r, m.id, protocol.Frame{Type: protocol.FramePlayerJoined, Participant: &self})

	h.logger.Info("Player joined", "room", roomID, "actor", m.id, "name", name)
	h.evictSlow(r)
	return m, nil
}

// Leave removes a member. The lowest remaining actor becomes master when
// the master leaves; an empty room is dropped.
func (h *Hub) Leave(roomID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := r.members[id]; !ok {
		return
	}
	h.remove(r, id)
	h.logger.Info("Player left", "room", roomID, "actor", id)
	h.evictSlow(r)
}

func (h *Hub) remove(r *room, id int) {
	left := r.participant(id)
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(v int) bool { return v == id })

	if len(r.order) == 0 {
		delete(h.rooms, r.id)
		return
	}

	h.broadcast(r, 0, protocol.Frame{Type: protocol.FramePlayerLeft, Participant: &left})
	if r.master == id {
		r.master = slices.Min(r.order)
		master := r.participant(r.master)
		h.broadcast(r, 0, protocol.Frame{Type: protocol.FrameMasterSwitched, Participant: &master, MasterID: r.master})
	}
}

// evictSlow drops members whose buffer overflowed. A member that lost a frame
// cannot resync, so it is disconnected and has to rejoin. Announcing an
// eviction may overflow another member, hence the loop.
func (h *Hub) evictSlow(r *room) {
	for {
		i := slices.IndexFunc(r.order, func(id int) bool { return r.members[id].evicted })
		if i < 0 {
			return
		}
		m := r.members[r.order[i]]
		close(m.send)
		h.remove(r, m.id)
		h.metrics.evicted()
		h.logger.Warn("Evicted slow member", "room", r.id, "actor", m.id)
	}
}

// Route forwards a raised event to its targets.
func (h *Hub) Route(roomID string, sender int, code protocol.Code, target int, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	ev := protocol.Frame{Type: protocol.FrameEvent, Code: code, Payload: payload, Sender: sender}

	switch target {
	case targetAll:
		h.broadcast(r, 0, ev)
	case targetOthers:
		h.broadcast(r, sender, ev)
	case targetMasterOnly:
		if m, ok := r.members[r.master]; ok {
			h.deliver(m, ev)
		}
	default:
		h.logger.Debug("Dropping event with unknown target", "room", roomID, "target", target)
		return
	}
	h.metrics.routed(code)
	h.evictSlow(r)
}

// broadcast sends f to every member except skip.
func (h *Hub) broadcast(r *room, skip int, f protocol.Frame) {
	for _, id := range r.order {
		if id == skip {
			continue
		}
		h.deliver(r.members[id], f)
	}
}

// deliver queues a frame without blocking. A member that cannot keep up is
// marked for eviction and gets nothing more.
func (h *Hub) deliver(m *member, f protocol.Frame) {
	if m.evicted {
		return
	}
	data, err := protocol.MarshalFrame(f)
	if err != nil {
		h.logger.Error("Failed to marshal frame", "error", err)
		return
	}
	select {
	case m.send <- data:
	default:
		m.evicted = true
		h.metrics.dropped()
		h.logger.Warn("Member send buffer full", "actor", m.id, "type", f.Type)
	}
}
