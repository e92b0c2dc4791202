// Package config loads the bridge configuration from YAML.
package config

import "time"

// Config is the root configuration for a bridge instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Feed      FeedConfig      `yaml:"feed"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Limits    LimitsConfig    `yaml:"limits"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this bridge.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the consumer WebSocket server settings.
type ServerConfig struct {
	Listen          string        `yaml:"listen" validate:"hostname_port"`
	Path            string        `yaml:"path" validate:"startswith=/"`
	ReadLimit       int64         `yaml:"read_limit" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// FeedConfig holds the feed provider settings.
type FeedConfig struct {
	Kind              string          `yaml:"kind" validate:"oneof=websocket simulated"`
	URL               string          `yaml:"url" validate:"omitempty,url"`
	KeyID             string          `yaml:"key_id"`           // Key id for the X-Feed-Key header
	PrivateKeyPath    string          `yaml:"private_key_path"` // Path to RSA private key PEM file
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	CallTimeout       time.Duration   `yaml:"call_timeout"`
	HandshakeTimeout  time.Duration   `yaml:"handshake_timeout"`
	Simulated         SimulatedConfig `yaml:"simulated"`
}

// SimulatedConfig holds the simulated feed settings.
type SimulatedConfig struct {
	Interval time.Duration `yaml:"interval"`
	Start    float64       `yaml:"start"`
	Step     float64       `yaml:"step" validate:"gte=0"`
}

// ReconnectConfig holds the delay policy for reconnect attempts.
type ReconnectConfig struct {
	Policy     string        `yaml:"policy" validate:"oneof=constant exponential"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier" validate:"gte=1"`
	Jitter     float64       `yaml:"jitter" validate:"gte=0,lte=1"`
}

// LimitsConfig holds per-connection and registry limits.
type LimitsConfig struct {
	InboundRate  float64 `yaml:"inbound_rate" validate:"gte=0"` // Frames per second, 0 disables
	InboundBurst int     `yaml:"inbound_burst" validate:"gte=1"`
	EventBuffer  int     `yaml:"event_buffer"`
}

// JournalConfig holds the optional session event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path" validate:"startswith=/"`
}
