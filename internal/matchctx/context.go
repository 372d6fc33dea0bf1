// Package matchctx holds the identity of the running match for log enrichment.
package matchctx

import (
	"log/slog"
	"sync"
)

// Context holds the current match and local participant identity.
// The session loop writes it; log handlers read it from any goroutine.
type Context struct {
	mu      sync.RWMutex
	room    string
	matchID string
	localID int
	master  bool
}

// NewContext creates a Context with no match loaded.
func NewContext(room string) *Context {
	return &Context{room: room}
}

func (c *Context) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Context) MatchID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchID
}

// SetMatch records the match id.
func (c *Context) SetMatch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchID = id
}

// SetLocal records who the local participant is and whether it is master.
func (c *Context) SetLocal(id int, master bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localID = id
	c.master = master
}

// Local returns the local participant id and master flag.
func (c *Context) Local() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localID, c.master
}

// Clear forgets the match, keeping the room.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchID = ""
	c.localID = 0
	c.master = false
}

// Attrs returns the identity as log attributes. It matches
// logging.ContextProvider.
func (c *Context) Attrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs := make([]slog.Attr, 0, 4)
	if c.room != "" {
		attrs = append(attrs, slog.String("room", c.room))
	}
	if c.matchID != "" {
		attrs = append(attrs, slog.String("matchId", c.matchID))
	}
	if c.localID != 0 {
		attrs = append(attrs, slog.Int("localId", c.localID), slog.Bool("master", c.master))
	}
	return attrs
}
