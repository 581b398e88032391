package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Guest     GuestConfig     `yaml:"guest" toml:"guest"`
	Fetch     FetchConfig     `yaml:"fetch" toml:"fetch"`
	Socket    SocketConfig    `yaml:"socket" toml:"socket"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// GuestMode selects where the guest runtime lives.
type GuestMode string

const (
	// GuestInProc runs the guest inside the host process over an in-memory pipe.
	GuestInProc GuestMode = "inproc"
	// GuestRemote waits for a guest process to dial the /guest websocket.
	GuestRemote GuestMode = "remote"
)

// BridgeConfig holds channel and session settings shared by both parties.
type BridgeConfig struct {
	HostOrigin       string    `envconfig:"BRIDGE_HOST_ORIGIN" default:"http://localhost:8000" yaml:"host_origin" toml:"host_origin"`
	GuestOrigin      string    `envconfig:"BRIDGE_GUEST_ORIGIN" default:"http://sandbox.localhost:8000" yaml:"guest_origin" toml:"guest_origin"`
	AllowWildcard    bool      `envconfig:"BRIDGE_ALLOW_WILDCARD" default:"false" yaml:"allow_wildcard" toml:"allow_wildcard"`
	SessionTimeout   Duration  `envconfig:"BRIDGE_SESSION_TIMEOUT" default:"0s" yaml:"session_timeout" toml:"session_timeout"`
	HandshakeTimeout Duration  `envconfig:"BRIDGE_HANDSHAKE_TIMEOUT" default:"10s" yaml:"handshake_timeout" toml:"handshake_timeout"`
	GuestMode        GuestMode `envconfig:"BRIDGE_GUEST_MODE" default:"inproc" yaml:"guest_mode" toml:"guest_mode"`
}

// GuestConfig holds guest runtime limits.
type GuestConfig struct {
	EvalTimeout  Duration `envconfig:"GUEST_EVAL_TIMEOUT" default:"5s" yaml:"eval_timeout" toml:"eval_timeout"`
	MaxCallStack int      `envconfig:"GUEST_MAX_CALL_STACK" default:"1024" yaml:"max_call_stack" toml:"max_call_stack"`
	QueueSize    int      `envconfig:"GUEST_QUEUE_SIZE" default:"256" yaml:"queue_size" toml:"queue_size"`
}

// FetchConfig holds host-side HTTP forwarding settings.
type FetchConfig struct {
	Timeout           Duration `envconfig:"FETCH_TIMEOUT" default:"30s" yaml:"timeout" toml:"timeout"`
	Retries           int      `envconfig:"FETCH_RETRIES" default:"0" yaml:"retries" toml:"retries"`
	RequestsPerSecond float64  `envconfig:"FETCH_RPS" default:"0" yaml:"requests_per_second" toml:"requests_per_second"`
	AllowedHosts      []string `envconfig:"FETCH_ALLOWED_HOSTS" yaml:"allowed_hosts" toml:"allowed_hosts"`
	MaxBodyBytes      int64    `envconfig:"FETCH_MAX_BODY_BYTES" default:"10485760" yaml:"max_body_bytes" toml:"max_body_bytes"`
	Retention         Duration `envconfig:"FETCH_RETENTION" default:"10m" yaml:"retention" toml:"retention"`
	UserAgent         string   `envconfig:"FETCH_USER_AGENT" default:"AgentOS-Bridge/1.0" yaml:"user_agent" toml:"user_agent"`
	BreakerFailures   uint32   `envconfig:"FETCH_BREAKER_FAILURES" default:"5" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerCooldown   Duration `envconfig:"FETCH_BREAKER_COOLDOWN" default:"30s" yaml:"breaker_cooldown" toml:"breaker_cooldown"`
}

// SocketConfig holds host-side websocket relay settings.
type SocketConfig struct {
	HandshakeTimeout Duration `envconfig:"SOCKET_HANDSHAKE_TIMEOUT" default:"10s" yaml:"handshake_timeout" toml:"handshake_timeout"`
	MaxMessageBytes  int64    `envconfig:"SOCKET_MAX_MESSAGE_BYTES" default:"1048576" yaml:"max_message_bytes" toml:"max_message_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-IP rate limiting for the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// Duration is a time.Duration that decodes from strings such as "5s" in
// environment variables, YAML and TOML alike.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment and then overlays the
// given YAML or TOML file. Values present in the file take precedence.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Bridge: BridgeConfig{
			HostOrigin:       "http://localhost:8000",
			GuestOrigin:      "http://sandbox.localhost:8000",
			HandshakeTimeout: Duration(10 * time.Second),
			GuestMode:        GuestInProc,
		},
		Guest: GuestConfig{
			EvalTimeout:  Duration(5 * time.Second),
			MaxCallStack: 1024,
			QueueSize:    256,
		},
		Fetch: FetchConfig{
			Timeout:         Duration(30 * time.Second),
			MaxBodyBytes:    10 << 20,
			Retention:       Duration(10 * time.Minute),
			UserAgent:       "AgentOS-Bridge/1.0",
			BreakerFailures: 5,
			BreakerCooldown: Duration(30 * time.Second),
		},
		Socket: SocketConfig{
			HandshakeTimeout: Duration(10 * time.Second),
			MaxMessageBytes:  1 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
