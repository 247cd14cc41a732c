package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/envelope"
)

// RelayHub backs the room-path profile: a room exists while a socket is
// attached to it and every text frame is copied to the other sockets of the
// room. It shares no state with Rooms.
type RelayHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*wsConn]struct{} // roomID -> set of connections
}

func NewRelayHub() *RelayHub {
	return &RelayHub{rooms: make(map[string]map[*wsConn]struct{})}
}

func (h *RelayHub) add(roomID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		rs = make(map[*wsConn]struct{})
		h.rooms[roomID] = rs
	}
	rs[c] = struct{}{}
}

func (h *RelayHub) remove(roomID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[roomID]; ok {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// broadcast copies payload to every socket in roomID except from. Sockets
// whose queue is full are dropped.
func (h *RelayHub) broadcast(roomID string, from *wsConn, payload []byte) int {
	var slow []*wsConn
	sent := 0

	h.mu.RLock()
	for c := range h.rooms[roomID] {
		if c == from {
			continue
		}
		if err := c.Send(payload); err != nil {
			slow = append(slow, c)
			continue
		}
		sent++
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("relay: dropping slow peer", "room", roomID, "identity", c.identity)
		_ = c.Close()
	}
	return sent
}

// Size reports the number of sockets attached to roomID.
func (h *RelayHub) Size(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *RelayHub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// WithRelay enables HandleRelay on s.
func (s *Server) WithRelay(h *RelayHub) *Server {
	s.relay = h
	return s
}

// HandleRelay: GET /ws/relay/{room_id}?access_token=...
func (s *Server) HandleRelay(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		http.NotFound(w, r)
		return
	}
	roomID := chi.URLParam(r, "room_id")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	who, err := s.auth.Authenticate(r, "")
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("relay upgrade failed", "room", roomID, "err", err)
		return
	}
	c := newConn(ws, who.ID, connOptions{
		sendQueue: s.opts.SendQueue,
		writeWait: s.opts.WriteWait,
		pongWait:  s.opts.PongWait,
		readLimit: s.opts.ReadLimit,
	})
	go c.writePump()

	s.relay.add(roomID, c)
	s.relayNotice(roomID, c, envelope.UserJoined(roomID, domain.ParticipantInfo{ID: who.ID, Name: who.Name, Role: who.Role}))
	slog.Info("relay connected", "room", roomID, "identity", who.ID)

	defer func() {
		s.relay.remove(roomID, c)
		s.relayNotice(roomID, c, envelope.UserLeft(roomID, who.ID))
		_ = c.Close()
		slog.Info("relay disconnected", "room", roomID, "identity", who.ID)
	}()

	c.ws.SetReadLimit(c.opts.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	})

	var limiter *rate.Limiter
	if s.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)
	}
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			continue
		}
		s.relay.broadcast(roomID, c, data)
	}
}

func (s *Server) relayNotice(roomID string, from *wsConn, ev envelope.Event) {
	frame, err := envelope.Encode(ev)
	if err != nil {
		slog.Error("relay encode", "err", err)
		return
	}
	s.relay.broadcast(roomID, from, frame)
}
