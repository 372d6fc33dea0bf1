package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/pkg/protocol"
)

var secret = []byte("relay-test")

func TestTokenRoundTrip(t *testing.T) {
	tok, err := IssueToken(secret, "ABC123", "alpha", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", claims.Room)
	assert.Equal(t, "alpha", claims.Name)
}

func TestTokenRejected(t *testing.T) {
	_, err := IssueToken(nil, "ABC123", "alpha", time.Minute)
	assert.Error(t, err)

	tok, err := IssueToken(secret, "ABC123", "alpha", time.Minute)
	require.NoError(t, err)
	_, err = ParseToken([]byte("other"), tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(secret, "ABC123", "alpha", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Room: "ABC123", Name: "alpha",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(secret, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func recv(t *testing.T, ch chan []byte) protocol.Frame {
	t.Helper()
	select {
	case data := <-ch:
		f, err := protocol.UnmarshalFrame(data)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame")
		return protocol.Frame{}
	}
}

func assertEmpty(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected frame %s", data)
	default:
	}
}

func newHub(t *testing.T, maxPlayers int) *Hub {
	t.Helper()
	h, err := NewHub(maxPlayers, nil)
	require.NoError(t, err)
	return h
}

func TestHubJoinAndRoute(t *testing.T) {
	h := newHub(t, 0)
	_, err := h.Join("R", "alpha", make(chan []byte, 8))
	assert.ErrorIs(t, err, ErrRoomUnknown)

	h.Create("R")
	chA, chB, chC := make(chan []byte, 8), make(chan []byte, 8), make(chan []byte, 8)
	a, err := h.Join("R", "alpha", chA)
	require.NoError(t, err)
	b, err := h.Join("R", "bravo", chB)
	require.NoError(t, err)
	c, err := h.Join("R", "charlie", chC)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Size("R"))

	joined := recv(t, chA)
	assert.Equal(t, protocol.FrameJoined, joined.Type)
	assert.Equal(t, a.id, joined.MasterID)
	assert.Equal(t, protocol.FramePlayerJoined, recv(t, chA).Type)
	assert.Equal(t, protocol.FramePlayerJoined, recv(t, chA).Type)

	joined = recv(t, chC)
	assert.Equal(t, c.id, joined.Self.ID)
	assert.Len(t, joined.Participants, 3)
	recv(t, chB) // joined
	recv(t, chB) // charlie joined

	h.Route("R", b.id, protocol.CodeTankDamage, targetMasterOnly, []byte("x"))
	f := recv(t, chA)
	assert.Equal(t, protocol.CodeTankDamage, f.Code)
	assert.Equal(t, b.id, f.Sender)
	assertEmpty(t, chB)
	assertEmpty(t, chC)

	h.Route("R", a.id, protocol.CodeScoreDelta, targetOthers, nil)
	assertEmpty(t, chA)
	assert.Equal(t, protocol.CodeScoreDelta, recv(t, chB).Code)
	assert.Equal(t, protocol.CodeScoreDelta, recv(t, chC).Code)

	h.Route("R", c.id, protocol.CodeKillFeed, targetAll, nil)
	for _, ch := range []chan []byte{chA, chB, chC} {
		assert.Equal(t, protocol.CodeKillFeed, recv(t, ch).Code)
	}

	h.Route("R", a.id, protocol.CodeKillFeed, 9, nil)
	assertEmpty(t, chA)
	assertEmpty(t, chB)
}

func TestHubMasterLeaves(t *testing.T) {
	h := newHub(t, 0)
	h.Create("R")
	chA, chB, chC := make(chan []byte, 8), make(chan []byte, 8), make(chan []byte, 8)
	a, _ := h.Join("R", "alpha", chA)
	b, _ := h.Join("R", "bravo", chB)
	_, _ = h.Join("R", "charlie", chC)
	for len(chB) > 0 {
		<-chB
	}

	h.Leave("R", a.id)
	left := recv(t, chB)
	assert.Equal(t, protocol.FramePlayerLeft, left.Type)
	assert.Equal(t, a.id, left.Participant.ID)
	sw := recv(t, chB)
	assert.Equal(t, protocol.FrameMasterSwitched, sw.Type)
	assert.Equal(t, b.id, sw.MasterID)

	h.Leave("R", a.id)
	assertEmpty(t, chB)

	h.Leave("R", b.id)
	h.Leave("R", 3)
	assert.False(t, h.Exists("R"))
}

func TestHubFull(t *testing.T) {
	h := newHub(t, 1)
	h.Create("R")
	_, err := h.Join("R", "alpha", make(chan []byte, 8))
	require.NoError(t, err)

	_, err = h.Join("R", "bravo", make(chan []byte, 8))
	assert.ErrorIs(t, err, ErrRoomFull)
}

// drain reads frames until the channel is closed or empty. It reports
// whether the channel was closed.
func drain(ch chan []byte) (frames int, closed bool) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return frames, true
			}
			frames++
		default:
			return frames, false
		}
	}
}

func TestHubEvictsSlowMember(t *testing.T) {
	h := newHub(t, 0)
	h.Create("R")
	chA, chC := make(chan []byte, 16), make(chan []byte, 16)
	slow := make(chan []byte, 2)
	a, err := h.Join("R", "alpha", chA)
	require.NoError(t, err)
	b, err := h.Join("R", "bravo", slow)
	require.NoError(t, err)
	c, err := h.Join("R", "charlie", chC)
	require.NoError(t, err)
	// bravo now holds joined and charlie's player_joined
	drain(chA)
	drain(chC)

	h.Route("R", a.id, protocol.CodeMatchStart, targetOthers, nil)

	n, closed := drain(slow)
	assert.Equal(t, 2, n, "queued frames stay readable")
	assert.True(t, closed)
	assert.Equal(t, 2, h.Size("R"))

	assert.Equal(t, protocol.CodeMatchStart, recv(t, chC).Code)
	left := recv(t, chC)
	assert.Equal(t, protocol.FramePlayerLeft, left.Type)
	assert.Equal(t, b.id, left.Participant.ID)
	left = recv(t, chA)
	assert.Equal(t, b.id, left.Participant.ID)

	// later traffic skips the evicted member
	h.Route("R", c.id, protocol.CodeKillFeed, targetAll, nil)
	assert.Equal(t, protocol.CodeKillFeed, recv(t, chA).Code)
	h.Leave("R", b.id)
	assertEmpty(t, chA)
}

func TestHubEvictedMasterHandsOver(t *testing.T) {
	h := newHub(t, 0)
	h.Create("R")
	slow := make(chan []byte, 1)
	a, err := h.Join("R", "alpha", slow)
	require.NoError(t, err)
	chB := make(chan []byte, 16)
	b, err := h.Join("R", "bravo", chB)
	require.NoError(t, err)

	_, closed := drain(slow)
	assert.True(t, closed, "player_joined overflowed the master")

	recv(t, chB) // joined
	left := recv(t, chB)
	assert.Equal(t, protocol.FramePlayerLeft, left.Type)
	assert.Equal(t, a.id, left.Participant.ID)
	sw := recv(t, chB)
	assert.Equal(t, protocol.FrameMasterSwitched, sw.Type)
	assert.Equal(t, b.id, sw.MasterID)
}

func TestServerHTTP(t *testing.T) {
	srv, err := NewServer(config.RelayConfig{
		Secret:         string(secret),
		TokenTTL:       time.Minute,
		AllowedOrigins: []string{"*"},
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	room := created["room"]
	assert.Len(t, room, roomIDLength)
	assert.True(t, srv.Hub().Exists(room))

	resp, err = http.Post(ts.URL+"/rooms/"+room+"/tokens", "application/json", strings.NewReader(`{"name":"alpha"}`))
	require.NoError(t, err)
	var issued map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()
	claims, err := ParseToken(secret, issued["token"])
	require.NoError(t, err)
	assert.Equal(t, room, claims.Room)

	resp, err = http.Post(ts.URL+"/rooms/"+room+"/tokens", "application/json", strings.NewReader(`{"name":" "}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/rooms/NOPE/tokens", "application/json", strings.NewReader(`{"name":"alpha"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/rooms/" + room + "/ws?token=bad")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewRoomID(t *testing.T) {
	id, err := NewRoomID()
	require.NoError(t, err)
	assert.Len(t, id, roomIDLength)
	for _, r := range id {
		assert.Contains(t, roomIDAlphabet, string(r))
	}
}
