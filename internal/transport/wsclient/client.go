// Package wsclient connects to the relay over WebSocket and implements the
// room transport.
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 10 * time.Second
)

// Client is a joined relay room.
type Client struct {
	conn    *ws.Conn
	writeMu sync.Mutex

	mu           sync.Mutex
	room         string
	self         core.Participant
	participants []core.Participant
	master       int
	listener     transport.Listener
	backlog      []func(transport.Listener)
	closed       bool

	done   chan struct{}
	logger *slog.Logger
}

var _ transport.Transport = (*Client)(nil)

// Dial joins the room at url with a join token and waits for the relay's
// welcome frame.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := ws.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay handshake failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	f, err := protocol.UnmarshalFrame(data)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if f.Type != protocol.FrameJoined || f.Self == nil {
		conn.Close()
		return nil, fmt.Errorf("relay handshake failed: unexpected %s frame %s", f.Type, f.Error)
	}

	c := &Client{
		conn:         conn,
		room:         f.Room,
		self:         *f.Self,
		participants: f.Participants,
		master:       f.MasterID,
		done:         make(chan struct{}),
		logger:       logger.With("component", "wsclient", "room", f.Room, "actor", f.Self.ID),
	}
	go c.readLoop()
	return c, nil
}

// Room returns the joined room code.
func (c *Client) Room() string { return c.room }

func (c *Client) LocalID() int { return c.self.ID }

func (c *Client) IsMasterClient() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.master == c.self.ID
}

func (c *Client) CurrentParticipants() []core.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Participant, len(c.participants))
	for i, p := range c.participants {
		p.IsMaster = p.ID == c.master
		out[i] = p
	}
	return out
}

// Subscribe sets the listener and replays callbacks received before it.
func (c *Client) Subscribe(l transport.Listener) {
	c.mu.Lock()
	c.listener = l
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, fn := range backlog {
		fn(l)
	}
}

func (c *Client) RaiseEvent(code protocol.Code, payload []byte, target transport.Target) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrNotJoined
	}

	data, err := protocol.MarshalFrame(protocol.Frame{
		Type:    protocol.FrameRaise,
		Code:    code,
		Target:  int(target),
		Payload: payload,
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("raise event %d: %w", code, err)
	}
	return nil
}

// Leave closes the connection and waits for the read loop to stop.
func (c *Client) Leave() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrNotJoined
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	return c.conn.Close()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) notify(fn func(transport.Listener)) {
	c.mu.Lock()
	l := c.listener
	if l == nil {
		c.backlog = append(c.backlog, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(l)
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				c.logger.Warn("Relay connection lost", "error", err)
			}
			return
		}
		f, err := protocol.UnmarshalFrame(data)
		if err != nil {
			c.logger.Debug("Discarding frame", "error", err)
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f protocol.Frame) {
	switch f.Type {
	case protocol.FrameEvent:
		code, payload, sender := f.Code, f.Payload, f.Sender
		c.notify(func(l transport.Listener) { l.OnEvent(code, payload, sender) })

	case protocol.FramePlayerJoined:
		if f.Participant == nil {
			return
		}
		p := *f.Participant
		c.mu.Lock()
		c.participants = append(c.participants, p)
		c.mu.Unlock()
		c.notify(func(l transport.Listener) { l.OnParticipantJoined(p) })

	case protocol.FramePlayerLeft:
		if f.Participant == nil {
			return
		}
		p := *f.Participant
		c.mu.Lock()
		c.participants = slices.DeleteFunc(c.participants, func(q core.Participant) bool { return q.ID == p.ID })
		c.mu.Unlock()
		c.notify(func(l transport.Listener) { l.OnParticipantLeft(p) })

	case protocol.FrameMasterSwitched:
		if f.Participant == nil {
			return
		}
		p := *f.Participant
		c.mu.Lock()
		c.master = p.ID
		c.mu.Unlock()
		c.notify(func(l transport.Listener) { l.OnMasterClientSwitched(p) })

	case protocol.FrameError:
		c.logger.Warn("Relay error", "error", f.Error)
	}
}
