package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	httpmw "github.com/cwrk-planet/signaling-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/signaling-service/internal/transport/ws"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Relay mounts the room-path relay profile at /ws/relay/{room_id}.
	Relay bool
	// Ready is probed by /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(h *Handler, wsServer *ws.Server, auth httpmw.Authenticator, opts RouterOptions) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(httpmw.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{httpmw.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WS endpoints authenticate on upgrade
	r.Get("/ws/stats", wsServer.HandleStats)
	if opts.Relay {
		r.Get("/ws/relay/{room_id}", wsServer.HandleRelay)
	}
	r.Get("/ws/{identity}", wsServer.HandleWS)

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmw.AuthMiddleware(auth))
		api.Use(middlewareChi.Timeout(30 * time.Second))

		api.Route("/rooms", func(rm chi.Router) {
			rm.Post("/", h.CreateRoom)
			rm.Get("/", h.ListRooms)

			rm.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetRoom)
				rr.Put("/", h.UpdateRoom)
				rr.Delete("/", h.DeleteRoom)
				rr.Post("/status", h.SetStatus)
				rr.Get("/participants", h.GetParticipants)
				rr.Get("/chat", h.GetChat)
				rr.Get("/chat/history", h.GetChatHistory)
				rr.Post("/breakout-rooms", h.CreateBreakout)
				rr.Get("/breakout-rooms", h.ListBreakouts)
			})
		})
		api.Delete("/breakout-rooms/{id}", h.CloseBreakout)
		api.Get("/archive/rooms", h.ListArchivedRooms)
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
