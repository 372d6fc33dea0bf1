// Package relay is a small room relay speaking the frame protocol over
// WebSocket. It stands in for a hosted pub/sub service: it assigns actor
// numbers, tracks the master and routes raised events by target.
package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/cors"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/pkg/protocol"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	roomIDAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	roomIDLength   = 6
)

// Server serves room creation, token issuing and the room WebSocket.
type Server struct {
	cfg      config.RelayConfig
	hub      *Hub
	upgrader ws.Upgrader
	logger   *slog.Logger
}

// NewServer creates a relay server.
func NewServer(cfg config.RelayConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")
	hub, err := NewHub(cfg.MaxPlayers, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger,
	}
	s.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Hub exposes the room hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	mux.HandleFunc("POST /rooms/{room}/tokens", s.handleIssueToken)
	mux.HandleFunc("GET /rooms/{room}/ws", s.handleRoom)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(mux)
}

// NewRoomID generates a short room code.
func NewRoomID() (string, error) {
	return gonanoid.Generate(roomIDAlphabet, roomIDLength)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := NewRoomID()
	if err != nil {
		http.Error(w, "failed to generate room id", http.StatusInternalServerError)
		return
	}
	s.hub.Create(id)
	s.logger.Info("Room created", "room", id)
	writeJSON(w, http.StatusCreated, map[string]string{"room": id})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	if !s.hub.Exists(roomID) {
		http.Error(w, ErrRoomUnknown.Error(), http.StatusNotFound)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "invalid json or empty name", http.StatusBadRequest)
		return
	}
	tok, err := IssueToken([]byte(s.cfg.Secret), roomID, strings.TrimSpace(req.Name), s.cfg.TokenTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	claims, err := ParseToken([]byte(s.cfg.Secret), bearer(r))
	if err != nil || claims.Room != roomID {
		http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}
	// tokens are issued per room, so a valid token may open it
	s.hub.Create(roomID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", "room", roomID, "error", err)
		return
	}

	send := make(chan []byte, sendBufferSize)
	m, err := s.hub.Join(roomID, claims.Name, send)
	if err != nil {
		code := ws.ClosePolicyViolation
		if errors.Is(err, ErrRoomFull) {
			code = ws.CloseTryAgainLater
		}
		_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(code, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go s.writePump(conn, send, done)
	s.readPump(conn, roomID, m.id)

	s.hub.Leave(roomID, m.id)
	close(done)
}

// readPump reads raise frames until the socket fails.
func (s *Server) readPump(conn *ws.Conn, roomID string, actor int) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.logger.Warn("Read error", "room", roomID, "actor", actor, "error", err)
			}
			return
		}
		f, err := protocol.UnmarshalFrame(data)
		if err != nil || f.Type != protocol.FrameRaise {
			s.logger.Debug("Discarding frame", "room", roomID, "actor", actor, "error", err)
			continue
		}
		s.hub.Route(roomID, actor, f.Code, f.Target, f.Payload)
	}
}

// writePump is the only writer of conn.
func (s *Server) writePump(conn *ws.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data, ok := <-send:
			if !ok {
				_ = conn.WriteControl(ws.CloseMessage,
					ws.FormatCloseMessage(ws.CloseTryAgainLater, "too slow"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
