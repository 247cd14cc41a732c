package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("http:\n  addr: \":8080\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.Signaling
	if s.MaxParticipants != 50 || s.MaxBreakoutRooms != 20 || s.SendQueue != 256 || s.MaxMessageLength != 4000 {
		t.Fatalf("signaling defaults = %+v", s)
	}
	if s.PongWait != time.Minute || s.WriteWait != 10*time.Second {
		t.Fatalf("timeouts = %v/%v", s.PongWait, s.WriteWait)
	}
	if cfg.Auth.Mode != AuthModeDev {
		t.Fatalf("auth mode = %q", cfg.Auth.Mode)
	}
	if cfg.Logging.Service != "signaling-service" || cfg.Logging.Backend != "std" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
}

func TestParse_Full(t *testing.T) {
	raw := `
http:
  addr: ":9000"
  shutdownTimeout: 3s
grpc:
  addr: ":9001"
auth:
  mode: jwt
  publicKeyPath: /keys/pub.pem
  issuer: auth-service
  clockSkew: 30s
signaling:
  maxParticipants: 8
  rateLimit: 20
  strictSDP: true
  pongWait: 45s
cors:
  allowedOrigins: ["https://meet.example"]
`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.ShutdownTimeout != 3*time.Second || cfg.GRPC.Addr != ":9001" {
		t.Fatalf("server = %+v %+v", cfg.HTTP, cfg.GRPC)
	}
	if cfg.Auth.ClockSkew != 30*time.Second || cfg.Auth.Issuer != "auth-service" {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
	if cfg.Signaling.MaxParticipants != 8 || cfg.Signaling.RateBurst != 40 || !cfg.Signaling.StrictSDP {
		t.Fatalf("signaling = %+v", cfg.Signaling)
	}
	if cfg.Signaling.PongWait != 45*time.Second {
		t.Fatalf("pongWait = %v", cfg.Signaling.PongWait)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Fatalf("cors = %+v", cfg.CORS)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"no addr":         "grpc:\n  addr: \":1\"\n",
		"jwt without key": "http:\n  addr: \":1\"\nauth:\n  mode: jwt\n",
		"bad mode":        "http:\n  addr: \":1\"\nauth:\n  mode: basic\n",
		"bad cost":        "http:\n  addr: \":1\"\nsignaling:\n  bcryptCost: 40\n",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadConfig_FromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":7000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(cfg.HTTP.Addr, "7000") {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
}
