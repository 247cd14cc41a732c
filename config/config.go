package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// GRPC serves introspection and health; an empty addr disables it.
type GRPC struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // signaling-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Postgres is optional: without a DSN rooms live in memory only.
type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

const (
	AuthModeJWT = "jwt"
	AuthModeDev = "dev"
)

type Auth struct {
	Mode          string        `yaml:"mode"` // jwt|dev
	PublicKeyPath string        `yaml:"publicKeyPath"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

type Signaling struct {
	MaxParticipants  int           `yaml:"maxParticipants"`
	MaxBreakoutRooms int           `yaml:"maxBreakoutRooms"`
	ChatRetention    int           `yaml:"chatRetention"`
	MaxMessageLength int           `yaml:"maxMessageLength"`
	SendQueue        int           `yaml:"sendQueue"`
	WriteWait        time.Duration `yaml:"writeWait"`
	PongWait         time.Duration `yaml:"pongWait"`
	ReadLimit        int64         `yaml:"readLimit"`
	RateLimit        float64       `yaml:"rateLimit"` // frames per second, 0 disables
	RateBurst        int           `yaml:"rateBurst"`
	StrictSDP        bool          `yaml:"strictSDP"`
	RelayProfile     bool          `yaml:"relayProfile"`
	BcryptCost       int           `yaml:"bcryptCost"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Postgres  Postgres  `yaml:"postgres"`
	Auth      Auth      `yaml:"auth"`
	Signaling Signaling `yaml:"signaling"`
	CORS      CORS      `yaml:"cors"`
}

// LoadConfig reads CONFIG_PATH, ./config/config.yaml by default.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.ReadHeaderTimeout <= 0 {
		c.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}

	switch c.Auth.Mode {
	case "":
		c.Auth.Mode = AuthModeDev
	case AuthModeDev:
	case AuthModeJWT:
		if c.Auth.PublicKeyPath == "" {
			return errors.New("auth.publicKeyPath is required in jwt mode")
		}
	default:
		return fmt.Errorf("auth.mode %q is not one of jwt|dev", c.Auth.Mode)
	}
	if c.Auth.ClockSkew < 0 || c.Auth.ClockSkew > time.Minute {
		return errors.New("auth.clockSkew must be in [0..1m]")
	}

	s := &c.Signaling
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = 50
	}
	if s.MaxBreakoutRooms < 0 {
		return errors.New("signaling.maxBreakoutRooms must be >= 0")
	}
	if s.MaxBreakoutRooms == 0 {
		s.MaxBreakoutRooms = 20
	}
	if s.ChatRetention < 0 {
		return errors.New("signaling.chatRetention must be >= 0")
	}
	if s.MaxMessageLength <= 0 {
		s.MaxMessageLength = 4000
	}
	if s.SendQueue <= 0 {
		s.SendQueue = 256
	}
	if s.WriteWait <= 0 {
		s.WriteWait = 10 * time.Second
	}
	if s.PongWait <= 0 {
		s.PongWait = 60 * time.Second
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = 64 << 10
	}
	if s.RateLimit < 0 {
		return errors.New("signaling.rateLimit must be >= 0")
	}
	if s.RateLimit > 0 && s.RateBurst <= 0 {
		s.RateBurst = int(s.RateLimit) * 2
	}
	if s.BcryptCost != 0 && (s.BcryptCost < 4 || s.BcryptCost > 18) {
		return errors.New("signaling.bcryptCost must be in [4..18]")
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "signaling-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}
