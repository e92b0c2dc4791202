package protocol

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rickgao/rtdbridge/internal/model"
)

// encMode uses Core Deterministic Encoding with datetimes as tag 0 RFC 3339
// strings carrying nanoseconds.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown envelope fields.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TimeTag = cbor.EncTagRequired
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 10,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type envelope struct {
	Type    MessageType     `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

type subscribePayload struct {
	TopicID int           `cbor:"1,keyasint"`
	Params  []wireVariant `cbor:"2,keyasint"`
}

type cancelPayload struct {
	TopicID int `cbor:"1,keyasint"`
}

type rowPayload struct {
	TopicID   int         `cbor:"1,keyasint"`
	Value     wireVariant `cbor:"2,keyasint"`
	Timestamp *time.Time  `cbor:"3,keyasint,omitempty"`
}

type reportPayload struct {
	Count int          `cbor:"1,keyasint"`
	Rows  []rowPayload `cbor:"2,keyasint"`
}

type errorPayload struct {
	Code    string `cbor:"1,keyasint"`
	TopicID int    `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint,omitempty"`
}

// wireVariant maps model.Variant onto native CBOR kinds.
type wireVariant model.Variant

// MarshalCBOR implements cbor.Marshaler.
func (w wireVariant) MarshalCBOR() ([]byte, error) {
	switch w.Kind {
	case model.KindString:
		return encMode.Marshal(w.Str)
	case model.KindNumber:
		return encMode.Marshal(w.Num)
	case model.KindTime:
		// Tagged explicitly: the encoder writes a zero time.Time as null.
		return encMode.Marshal(cbor.Tag{Number: 0, Content: w.Time.UTC().Format(time.RFC3339Nano)})
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, w.Kind)
	}
}

// UnmarshalCBOR implements cbor.Unmarshaler. The CBOR major type picks the kind.
func (w *wireVariant) UnmarshalCBOR(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty value", ErrUnsupportedKind)
	}

	switch major := data[0] >> 5; major {
	case 3: // text string
		var s string
		if err := decMode.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireVariant(model.String(s))
	case 0, 1: // unsigned / negative integer
		var n int64
		if err := decMode.Unmarshal(data, &n); err != nil {
			return err
		}
		*w = wireVariant(model.Number(float64(n)))
	case 6: // tagged item, only tags 0 and 1 are datetimes
		var t time.Time
		if err := decMode.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedKind, err)
		}
		*w = wireVariant(model.Time(t))
	case 7:
		switch data[0] {
		case 0xf9, 0xfa, 0xfb: // half, single, double float
			var f float64
			if err := decMode.Unmarshal(data, &f); err != nil {
				return err
			}
			*w = wireVariant(model.Number(f))
		default:
			return fmt.Errorf("%w: simple value 0x%02x", ErrUnsupportedKind, data[0])
		}
	default:
		return fmt.Errorf("%w: major type %d", ErrUnsupportedKind, major)
	}
	return nil
}

func toWire(params []model.Variant) []wireVariant {
	out := make([]wireVariant, len(params))
	for i, p := range params {
		out[i] = wireVariant(p)
	}
	return out
}

func fromWire(params []wireVariant) []model.Variant {
	out := make([]model.Variant, len(params))
	for i, p := range params {
		out[i] = model.Variant(p)
	}
	return out
}

func encode(t MessageType, payload any) ([]byte, error) {
	body, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return encMode.Marshal(envelope{Type: t, Payload: body})
}

// EncodeSubscribe encodes a subscription request frame.
func EncodeSubscribe(req model.SubscriptionRequest) ([]byte, error) {
	return encode(TypeSubscribe, subscribePayload{TopicID: req.TopicID, Params: toWire(req.Params)})
}

// EncodeCancel encodes a cancel request frame.
func EncodeCancel(req model.CancelRequest) ([]byte, error) {
	return encode(TypeCancel, cancelPayload{TopicID: req.TopicID})
}

// EncodeDataReport encodes a report frame. Count is always written as len(Rows).
func EncodeDataReport(r model.DataReport) ([]byte, error) {
	payload := reportPayload{Count: len(r.Rows), Rows: make([]rowPayload, len(r.Rows))}
	for i, row := range r.Rows {
		payload.Rows[i] = rowPayload{
			TopicID:   row.TopicID,
			Value:     wireVariant(row.Value),
			Timestamp: row.Timestamp,
		}
	}
	return encode(TypeDataReport, payload)
}

// EncodeError encodes an error response frame.
func EncodeError(e model.ErrorReport) ([]byte, error) {
	return encode(TypeError, errorPayload{Code: string(e.Code), TopicID: e.TopicID, Message: e.Message})
}

// Decode parses any frame of the protocol.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if len(env.Payload) == 0 {
		return Message{}, fmt.Errorf("%w: missing payload", ErrUnknownMessage)
	}

	msg := Message{Type: env.Type}
	switch env.Type {
	case TypeSubscribe:
		var p subscribePayload
		if err := decMode.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: subscribe: %v", ErrUnknownMessage, err)
		}
		msg.Subscribe = &model.SubscriptionRequest{TopicID: p.TopicID, Params: fromWire(p.Params)}

	case TypeCancel:
		var p cancelPayload
		if err := decMode.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: cancel: %v", ErrUnknownMessage, err)
		}
		msg.Cancel = &model.CancelRequest{TopicID: p.TopicID}

	case TypeDataReport:
		var p reportPayload
		if err := decMode.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: data report: %v", ErrUnknownMessage, err)
		}
		if p.Count != len(p.Rows) {
			return Message{}, fmt.Errorf("%w: count=%d rows=%d", ErrCountMismatch, p.Count, len(p.Rows))
		}
		rows := make([]model.Row, len(p.Rows))
		for i, r := range p.Rows {
			rows[i] = model.Row{TopicID: r.TopicID, Value: model.Variant(r.Value), Timestamp: r.Timestamp}
		}
		report := model.NewDataReport(rows)
		msg.Report = &report

	case TypeError:
		var p errorPayload
		if err := decMode.Unmarshal(env.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("%w: error: %v", ErrUnknownMessage, err)
		}
		msg.Error = &model.ErrorReport{Code: model.ErrorCode(p.Code), TopicID: p.TopicID, Message: p.Message}

	default:
		return Message{}, fmt.Errorf("%w: type %d", ErrUnknownMessage, env.Type)
	}

	return msg, nil
}

// DecodeRequest parses an inbound consumer frame. Only Subscribe and Cancel are
// accepted; every other shape is ErrUnknownMessage.
func DecodeRequest(data []byte) (Message, error) {
	msg, err := Decode(data)
	if err != nil {
		return Message{}, err
	}
	switch msg.Type {
	case TypeSubscribe, TypeCancel:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("%w: %s is not a request", ErrUnknownMessage, msg.Type)
	}
}
