package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListen            = ":8080"
	DefaultPath              = "/ws"
	DefaultReadLimit         = 64 * 1024
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultFeedKind          = "websocket"
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultCallTimeout       = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultSimInterval       = 1 * time.Second
	DefaultSimStart          = 100.0
	DefaultSimStep           = 0.5
	DefaultReconnectPolicy   = "constant"
	DefaultReconnectDelay    = 10 * time.Second
	DefaultReconnectMaxDelay = 2 * time.Minute
	DefaultReconnectFactor   = 2.0
	DefaultInboundRate       = 50.0
	DefaultInboundBurst      = 100
	DefaultEventBuffer       = 1024
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Feed defaults
	if c.Feed.Kind == "" {
		c.Feed.Kind = DefaultFeedKind
	}
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Feed.CallTimeout == 0 {
		c.Feed.CallTimeout = DefaultCallTimeout
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Feed.Simulated.Interval == 0 {
		c.Feed.Simulated.Interval = DefaultSimInterval
	}
	if c.Feed.Simulated.Start == 0 {
		c.Feed.Simulated.Start = DefaultSimStart
	}
	if c.Feed.Simulated.Step == 0 {
		c.Feed.Simulated.Step = DefaultSimStep
	}

	// Reconnect defaults
	if c.Reconnect.Policy == "" {
		c.Reconnect.Policy = DefaultReconnectPolicy
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultReconnectFactor
	}

	// Limits defaults
	if c.Limits.InboundRate == 0 {
		c.Limits.InboundRate = DefaultInboundRate
	}
	if c.Limits.InboundBurst == 0 {
		c.Limits.InboundBurst = DefaultInboundBurst
	}
	if c.Limits.EventBuffer == 0 {
		c.Limits.EventBuffer = DefaultEventBuffer
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
