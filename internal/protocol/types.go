package protocol

import (
	"errors"

	"github.com/rickgao/rtdbridge/internal/model"
)

// Errors
var (
	ErrUnknownMessage  = errors.New("unknown message")
	ErrCountMismatch   = errors.New("data report count does not match rows")
	ErrUnsupportedKind = errors.New("unsupported variant kind")
)

// MessageType tags the payload of an envelope.
type MessageType uint8

const (
	TypeSubscribe  MessageType = 1
	TypeCancel     MessageType = 2
	TypeDataReport MessageType = 3
	TypeError      MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypeSubscribe:
		return "subscribe"
	case TypeCancel:
		return "cancel"
	case TypeDataReport:
		return "data_report"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one decoded frame. Exactly one payload field is set, matching Type.
type Message struct {
	Type      MessageType
	Subscribe *model.SubscriptionRequest
	Cancel    *model.CancelRequest
	Report    *model.DataReport
	Error     *model.ErrorReport
}

// Operator status lines sent to consumers as text frames.
const (
	StatusConnected    = "feed connected"
	StatusDisconnected = "feed disconnected"
	StatusReconnecting = "feed lost, reconnecting…"
	StatusUnavailable  = "error: feed unavailable"
)
