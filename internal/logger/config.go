package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Backend string

const (
	BackendStd Backend = "std" // text in dev, JSON elsewhere
	BackendZap Backend = "zap" // zap core behind slog-zap
)

type Config struct {
	Service    string
	Version    string
	InstanceID string

	Level   slog.Level
	Env     Env
	Backend Backend // zap for stage/prod, std for dev when empty
	Debug   bool

	// Zap sampling: first SampleInitial records per SampleTick seconds, then
	// every SampleThereafter-th.
	SampleInitial    int
	SampleThereafter int
	SampleTick       int

	AddSource bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// ParseLevel maps debug/info/warn/error onto slog levels. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (c Config) level() slog.Level {
	if c.Debug && c.Level == 0 {
		return slog.LevelDebug
	}
	return c.Level
}
