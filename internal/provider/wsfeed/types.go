package wsfeed

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/rtdbridge/internal/model"
)

// Errors
var (
	ErrConnectionClosed = errors.New("feed connection closed")
	ErrRejected         = errors.New("feed gateway rejected start")
	ErrBadVariant       = errors.New("variant must carry exactly one of s, n, t")
	ErrMalformedError   = errors.New("malformed error response")
)

// ProviderError is an error response from the feed gateway.
type ProviderError struct {
	Cmd     string
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("feed gateway error on %s: %s: %s", e.Cmd, e.Code, e.Message)
}

// Config configures the upstream feed connection.
type Config struct {
	URL              string        // Gateway WebSocket URL (e.g., wss://feed.example.com/feed/v1)
	HandshakeTimeout time.Duration // WebSocket handshake timeout
	WriteTimeout     time.Duration // Write deadline for commands
	ReadLimit        int64         // Max inbound frame size in bytes
	UserAgent        string        // Sent on the handshake and the start command
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        4 << 20,
	}
}

// Command is a command sent to the gateway.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params,omitempty"`
}

// Inbound is any frame from the gateway. Responses carry the command id;
// unsolicited "update" notifications carry none.
type Inbound struct {
	ID   int64           `json:"id,omitempty"`
	Type string          `json:"type"` // "ok", "error", "update"
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// StartParams are parameters for a start command.
type StartParams struct {
	Client string `json:"client"`
}

// StatusMsg is the message content of start and heartbeat responses.
type StatusMsg struct {
	Status int `json:"status"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	TopicID int       `json:"topic_id"`
	Params  []Variant `json:"params"`
}

// UnsubscribeParams are parameters for an unsubscribe command.
type UnsubscribeParams struct {
	TopicID int `json:"topic_id"`
}

// RefreshMsg is the message content of a refresh response.
type RefreshMsg struct {
	Count   int           `json:"count"`
	Updates []TopicUpdate `json:"updates"`
}

// TopicUpdate is one refreshed topic value.
type TopicUpdate struct {
	TopicID int     `json:"topic_id"`
	Value   Variant `json:"value"`
}

// ErrorMsg is the message content of an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Variant is the JSON form of model.Variant.
type Variant struct {
	S *string    `json:"s,omitempty"`
	N *float64   `json:"n,omitempty"`
	T *time.Time `json:"t,omitempty"`
}

// FromModel converts a model variant.
func FromModel(v model.Variant) Variant {
	switch v.Kind {
	case model.KindString:
		s := v.Str
		return Variant{S: &s}
	case model.KindNumber:
		n := v.Num
		return Variant{N: &n}
	case model.KindTime:
		t := v.Time
		return Variant{T: &t}
	default:
		return Variant{}
	}
}

// Model converts back to a model variant.
func (v Variant) Model() (model.Variant, error) {
	switch {
	case v.S != nil && v.N == nil && v.T == nil:
		return model.String(*v.S), nil
	case v.N != nil && v.S == nil && v.T == nil:
		return model.Number(*v.N), nil
	case v.T != nil && v.S == nil && v.N == nil:
		return model.Time(*v.T), nil
	default:
		return model.Variant{}, ErrBadVariant
	}
}
