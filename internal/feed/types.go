package feed

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/rtdbridge/internal/model"
)

// Errors
var (
	ErrConnectFailed     = errors.New("feed connect failed")
	ErrConnectInProgress = errors.New("feed connect already in progress")
	ErrNotConnected      = errors.New("feed session not connected")
	ErrNotPending        = errors.New("no reconnect pending")
	ErrSessionClosed     = errors.New("feed session closed")
)

// State is the Feed Session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateHeartbeatLost
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHeartbeatLost:
		return "heartbeat_lost"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// EventKind names a session notification.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventConnectFailed
	EventHeartbeatLost
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventHeartbeatLost:
		return "heartbeat_lost"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is a notification from a session to its owner.
type Event struct {
	SessionID uuid.UUID
	Kind      EventKind
	At        time.Time        // Bridge time the event was raised
	Report    model.DataReport // EventData only, already skew-adjusted
	Err       error            // EventConnectFailed / EventHeartbeatLost cause, may be nil
	Reconnect bool             // True when raised by a scheduled reconnect attempt
}

// Config configures a Session.
type Config struct {
	HeartbeatInterval time.Duration // Provider liveness check period
	CallTimeout       time.Duration // Upper bound for each provider call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		CallTimeout:       10 * time.Second,
	}
}
