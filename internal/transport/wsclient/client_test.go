package wsclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/relay"
	"github.com/tankclash/matchcore/internal/transport"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

var secret = []byte("test-secret")

type recorder struct {
	mu      sync.Mutex
	events  []protocol.Code
	senders []int
	joined  []int
	left    []int
	masters []int
}

func (r *recorder) OnEvent(code protocol.Code, _ []byte, senderID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, code)
	r.senders = append(r.senders, senderID)
}

func (r *recorder) OnParticipantJoined(p core.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, p.ID)
}

func (r *recorder) OnParticipantLeft(p core.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, p.ID)
}

func (r *recorder) OnMasterClientSwitched(m core.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masters = append(r.masters, m.ID)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		events:  append([]protocol.Code(nil), r.events...),
		senders: append([]int(nil), r.senders...),
		joined:  append([]int(nil), r.joined...),
		left:    append([]int(nil), r.left...),
		masters: append([]int(nil), r.masters...),
	}
}

func startRelay(t *testing.T, maxPlayers int) *httptest.Server {
	t.Helper()
	srv, err := relay.NewServer(config.RelayConfig{
		Secret:         string(secret),
		TokenTTL:       time.Hour,
		AllowedOrigins: []string{"*"},
		MaxPlayers:     maxPlayers,
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, room, name string) (*Client, *recorder) {
	t.Helper()
	tok, err := relay.IssueToken(secret, room, name, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + room + "/ws"
	c, err := Dial(context.Background(), url, tok, nil)
	require.NoError(t, err)
	rec := &recorder{}
	c.Subscribe(rec)
	return c, rec
}

func TestJoinAndRoute(t *testing.T) {
	ts := startRelay(t, 0)
	a, recA := dial(t, ts, "ROOM1", "alpha")
	b, recB := dial(t, ts, "ROOM1", "bravo")
	defer a.Leave()
	defer b.Leave()

	assert.True(t, a.IsMasterClient())
	assert.False(t, b.IsMasterClient())
	assert.Equal(t, "ROOM1", b.Room())
	require.Len(t, b.CurrentParticipants(), 2)

	require.Eventually(t, func() bool { return len(recA.snapshot().joined) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, a.CurrentParticipants(), 2)

	require.NoError(t, b.RaiseEvent(protocol.CodeTankDamage, []byte{1}, transport.TargetMasterOnly))
	require.NoError(t, b.RaiseEvent(protocol.CodeKillFeed, []byte{2}, transport.TargetAll))
	require.NoError(t, a.RaiseEvent(protocol.CodeScoreDelta, []byte{3}, transport.TargetOthers))

	require.Eventually(t, func() bool {
		return len(recA.snapshot().events) == 2 && len(recB.snapshot().events) == 2
	}, time.Second, 5*time.Millisecond)

	gotA := recA.snapshot()
	assert.Equal(t, []protocol.Code{protocol.CodeTankDamage, protocol.CodeKillFeed}, gotA.events)
	assert.Equal(t, []int{b.LocalID(), b.LocalID()}, gotA.senders)

	gotB := recB.snapshot()
	assert.ElementsMatch(t, []protocol.Code{protocol.CodeKillFeed, protocol.CodeScoreDelta}, gotB.events)
}

func TestMasterHandover(t *testing.T) {
	ts := startRelay(t, 0)
	a, _ := dial(t, ts, "ROOM2", "alpha")
	b, recB := dial(t, ts, "ROOM2", "bravo")
	defer b.Leave()

	require.NoError(t, a.Leave())

	require.Eventually(t, func() bool { return b.IsMasterClient() }, time.Second, 5*time.Millisecond)
	got := recB.snapshot()
	assert.Equal(t, []int{a.LocalID()}, got.left)
	assert.Equal(t, []int{b.LocalID()}, got.masters)
	assert.Len(t, b.CurrentParticipants(), 1)

	assert.ErrorIs(t, a.RaiseEvent(protocol.CodeKillFeed, nil, transport.TargetAll), transport.ErrNotJoined)
	assert.ErrorIs(t, a.Leave(), transport.ErrNotJoined)
}

func TestDialRejected(t *testing.T) {
	ts := startRelay(t, 1)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/ROOM3/ws"

	_, err := Dial(context.Background(), url, "not-a-token", nil)
	assert.Error(t, err)

	// token for another room
	tok, err := relay.IssueToken(secret, "OTHER", "x", time.Hour)
	require.NoError(t, err)
	_, err = Dial(context.Background(), url, tok, nil)
	assert.Error(t, err)

	first, _ := dial(t, ts, "ROOM3", "alpha")
	defer first.Leave()
	tok, err = relay.IssueToken(secret, "ROOM3", "bravo", time.Hour)
	require.NoError(t, err)
	_, err = Dial(context.Background(), url, tok, nil)
	assert.Error(t, err, "room is full")
}

func TestBacklogReplayedOnSubscribe(t *testing.T) {
	ts := startRelay(t, 0)
	a, _ := dial(t, ts, "ROOM4", "alpha")
	defer a.Leave()

	tok, err := relay.IssueToken(secret, "ROOM4", "bravo", time.Hour)
	require.NoError(t, err)
	b, err := Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http")+"/rooms/ROOM4/ws", tok, nil)
	require.NoError(t, err)
	defer b.Leave()

	require.NoError(t, a.RaiseEvent(protocol.CodeMatchStart, nil, transport.TargetOthers))
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.backlog) == 1
	}, time.Second, 5*time.Millisecond)

	rec := &recorder{}
	b.Subscribe(rec)
	assert.Equal(t, []protocol.Code{protocol.CodeMatchStart}, rec.snapshot().events)
}
