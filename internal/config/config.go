package config

import (
	"fmt"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	Presence   PresenceConfig   `koanf:"presence"`
	Auth       AuthConfig       `koanf:"auth"`
	Database   DatabaseConfig   `koanf:"database"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

type HTTPConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	CORSOrigins  []string      `koanf:"cors_origins"`
	// RateLimit is requests per minute per client IP on /api; 0 disables
	RateLimit int `koanf:"rate_limit"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration covers heartbeat and per-socket limits
type WebSocketConfig struct {
	PingInterval   time.Duration `koanf:"ping_interval"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	BufferSize     int           `koanf:"buffer_size"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	// FramesPerMinute caps inbound frames per user; 0 disables the limiter
	FramesPerMinute int `koanf:"frames_per_minute"`
}

// PresenceConfig drives the periodic reaper
type PresenceConfig struct {
	ReapInterval time.Duration `koanf:"reap_interval"`
	OnlineTTL    time.Duration `koanf:"online_ttl"`
	TypingTTL    time.Duration `koanf:"typing_ttl"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
}

type DatabaseConfig struct {
	Path    string        `koanf:"path"`
	Timeout time.Duration `koanf:"timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type SupervisorConfig struct {
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns the built-in defaults
// FUNCTIONAL DISCOVERY: Presence windows are 30s online / 5s typing swept every 10s;
// heartbeat pings every 30s with a 60s read deadline
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigins:  []string{"*"},
			RateLimit:    300,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      100,
			MaxMessageSize:  64 * 1024,
			FramesPerMinute: 600,
		},
		Presence: PresenceConfig{
			ReapInterval: 10 * time.Second,
			OnlineTTL:    30 * time.Second,
			TypingTTL:    5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:    "./classpulse.db",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("HTTP rate limit cannot be negative")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.FramesPerMinute < 0 {
		return fmt.Errorf("WebSocket frame limit cannot be negative")
	}

	if c.Presence.ReapInterval <= 0 {
		return fmt.Errorf("presence reap interval must be positive")
	}
	if c.Presence.OnlineTTL <= 0 || c.Presence.TypingTTL <= 0 {
		return fmt.Errorf("presence TTLs must be positive")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.Supervisor.ShutdownTimeout <= 0 {
		return fmt.Errorf("supervisor shutdown timeout must be positive")
	}

	return nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
