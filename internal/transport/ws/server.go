package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/registry"
	"github.com/cwrk-planet/signaling-service/internal/service"
	httpmw "github.com/cwrk-planet/signaling-service/internal/transport/http/middleware"
)

type Options struct {
	SendQueue      int
	WriteWait      time.Duration
	PongWait       time.Duration
	ReadLimit      int64
	RateLimit      float64 // frames per second, 0 disables
	RateBurst      int
	AllowedOrigins []string
}

func (o *Options) withDefaults() {
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
}

// Stats is the live-load snapshot served on /ws/stats and over gRPC.
type Stats struct {
	Connections int `json:"connections"`
	domain.RoomStats
}

// Server is the signaling endpoint: one websocket per identity at
// /ws/{identity}.
type Server struct {
	upgrader websocket.Upgrader
	auth     httpmw.Authenticator
	registry *registry.Registry
	rooms    *service.Rooms
	router   *Router
	relay    *RelayHub
	opts     Options
}

func NewServer(reg *registry.Registry, rooms *service.Rooms, router *Router, auth httpmw.Authenticator, opts Options) *Server {
	opts.withDefaults()
	s := &Server{
		auth:     auth,
		registry: reg,
		rooms:    rooms,
		router:   router,
		opts:     opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return s
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// HandleWS: GET /ws/{identity}?access_token=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}
	who, err := s.auth.Authenticate(r, identity)
	if err != nil {
		slog.Info("ws auth rejected", "identity", identity, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		slog.Warn("ws upgrade failed", "identity", identity, "err", err)
		return
	}

	c := newConn(ws, who.ID, connOptions{
		sendQueue: s.opts.SendQueue,
		writeWait: s.opts.WriteWait,
		pongWait:  s.opts.PongWait,
		readLimit: s.opts.ReadLimit,
	})
	if s.registry.Register(who.ID, c) {
		slog.Info("ws reconnect", "identity", who.ID)
	}
	s.rooms.SetProfile(domain.ParticipantInfo{ID: who.ID, Name: who.Name, Role: who.Role})
	slog.Info("ws connected", "identity", who.ID, "role", who.Role, "remote", r.RemoteAddr)

	go c.writePump()

	ctx := context.WithoutCancel(r.Context())
	defer s.cleanup(ctx, who.ID, c)

	s.readLoop(ctx, &Session{Identity: who, Conn: c}, c)
}

func (s *Server) readLoop(ctx context.Context, sess *Session, c *wsConn) {
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("ws read ended", "identity", sess.Identity.ID, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			s.router.replyError(ctx, sess, badRequest("rate limit exceeded"))
			continue
		}
		s.router.Dispatch(ctx, sess, data)
	}
}

// cleanup runs once the read loop is over. Room membership is dropped only
// when no newer connection took over the identity.
func (s *Server) cleanup(ctx context.Context, identity string, c *wsConn) {
	if rec := recover(); rec != nil {
		slog.Error("ws connection panic", "identity", identity, "panic", rec, "stack", string(debug.Stack()))
	}
	released := s.registry.Release(identity, c)
	if _, live := s.registry.Lookup(identity); released || !live {
		left := s.rooms.LeaveAll(ctx, identity)
		slog.Info("ws disconnected", "identity", identity, "rooms_left", len(left))
	} else {
		slog.Info("ws superseded connection closed", "identity", identity)
	}
	_ = c.Close()
}

func (s *Server) Stats() Stats {
	return Stats{Connections: s.registry.Count(), RoomStats: s.rooms.Stats()}
}

// HandleStats: GET /ws/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Stats())
}
