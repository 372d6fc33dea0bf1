// Package cache keeps the participant directory of a room.
package cache

import (
	"sort"
	"sync"

	"github.com/tankclash/matchcore/pkg/core"
)

// Directory caches room participants and their wallet associations so name
// lookups never hit the transport. Enumeration order is actor order.
type Directory struct {
	m            sync.Mutex
	participants map[int]core.Participant
	wallets      map[int]string
}

func NewDirectory() *Directory {
	return &Directory{
		participants: make(map[int]core.Participant),
		wallets:      make(map[int]string),
	}
}

func (d *Directory) Reset() {
	d.m.Lock()
	defer d.m.Unlock()
	d.participants = make(map[int]core.Participant)
	d.wallets = make(map[int]string)
}

// Upsert adds or replaces a participant.
func (d *Directory) Upsert(p core.Participant) {
	d.m.Lock()
	defer d.m.Unlock()
	d.participants[p.ID] = p
}

// Replace swaps the whole participant set, keeping wallets of those still present.
func (d *Directory) Replace(ps []core.Participant) {
	d.m.Lock()
	defer d.m.Unlock()
	d.participants = make(map[int]core.Participant, len(ps))
	for _, p := range ps {
		d.participants[p.ID] = p
	}
	for id := range d.wallets {
		if _, ok := d.participants[id]; !ok {
			delete(d.wallets, id)
		}
	}
}

func (d *Directory) Remove(id int) {
	d.m.Lock()
	defer d.m.Unlock()
	delete(d.participants, id)
	delete(d.wallets, id)
}

func (d *Directory) Get(id int) (core.Participant, bool) {
	d.m.Lock()
	defer d.m.Unlock()
	p, ok := d.participants[id]
	return p, ok
}

// Name returns the display name of id, empty when unknown.
func (d *Directory) Name(id int) string {
	p, _ := d.Get(id)
	return p.Name
}

// SetMaster flags id as master and clears the flag elsewhere.
func (d *Directory) SetMaster(id int) {
	d.m.Lock()
	defer d.m.Unlock()
	for pid, p := range d.participants {
		p.IsMaster = pid == id
		d.participants[pid] = p
	}
}

// List returns participants in actor order.
func (d *Directory) List() []core.Participant {
	d.m.Lock()
	defer d.m.Unlock()
	out := make([]core.Participant, 0, len(d.participants))
	for _, p := range d.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns participant ids in actor order.
func (d *Directory) IDs() []int {
	list := d.List()
	ids := make([]int, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	return ids
}

func (d *Directory) Len() int {
	d.m.Lock()
	defer d.m.Unlock()
	return len(d.participants)
}

// SetWallet records the wallet address announced for id.
func (d *Directory) SetWallet(id int, address string) {
	d.m.Lock()
	defer d.m.Unlock()
	d.wallets[id] = address
}

func (d *Directory) Wallet(id int) (string, bool) {
	d.m.Lock()
	defer d.m.Unlock()
	w, ok := d.wallets[id]
	return w, ok
}
