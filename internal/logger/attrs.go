package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// ensureInstanceID keeps an explicit id, otherwise derives host-<8 hex>.
func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "signaling"
	}
	return host + "-" + uuid.NewString()[:8]
}

// commonAttr is attached to every record. Version is omitted when unknown.
func commonAttr(cfg Config, started time.Time) []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	attrs = append(attrs,
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
	)
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return append(attrs, slog.Time("started_at", started))
}
