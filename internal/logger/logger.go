// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

var def *slog.Logger

// Init builds the logger for cfg, installs it as the slog default and returns it.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "signaling-service"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs(commonAttr(cfg, time.Now()))

	base := slog.New(h)
	slog.SetDefault(base)
	def = base
	return base
}

func L() *slog.Logger {
	if def != nil {
		return def
	}
	return Init(Config{})
}

// Ctx returns the default logger carrying the trace ids found in ctx.
func Ctx(ctx context.Context) *slog.Logger {
	attrs := AttrsFromCtx(ctx)
	if len(attrs) == 0 {
		return L()
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return L().With(args...)
}
