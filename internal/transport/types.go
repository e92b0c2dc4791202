package transport

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrServerClosed       = errors.New("transport server closed")
)

// Handler receives connection lifecycle and inbound frames.
// Calls for one connection are never concurrent with each other.
type Handler interface {
	OnOpen(ctx context.Context, connID string) error
	OnClose(ctx context.Context, connID string) error
	OnText(ctx context.Context, connID string, text string)
	OnBinary(ctx context.Context, connID string, data []byte)
}

// Config configures the WebSocket server.
type Config struct {
	ReadLimit      int64         // Max inbound frame size in bytes
	WriteTimeout   time.Duration // Deadline for each outbound write
	PingInterval   time.Duration // How often to ping consumers
	PongTimeout    time.Duration // Max silence before a connection is dropped
	RateLimit      float64       // Inbound frames per second per connection, 0 disables
	RateBurst      int           // Inbound burst allowance
	AllowedOrigins []string      // Empty allows any origin
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadLimit:    64 * 1024,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		RateLimit:    50,
		RateBurst:    100,
	}
}
