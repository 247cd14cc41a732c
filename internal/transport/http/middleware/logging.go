package httpmw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/cwrk-planet/signaling-service/internal/logger"
)

// Logging records method, path, status, size and duration of every request.
// The chi wrapper keeps http.Hijacker so websocket upgrades pass through.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		reqID, _ := RequestIDFromCtx(r.Context())
		logger.Ctx(r.Context()).Info("http request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
