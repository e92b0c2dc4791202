package model

import (
	"fmt"
	"strconv"
	"time"
)

// -----------------------------------------------------------------------------
// Variant
// -----------------------------------------------------------------------------

// Kind identifies which field of a Variant carries the value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTime:
		return "datetime"
	default:
		return "invalid"
	}
}

// Variant is a single feed value: a string, a number or a datetime.
type Variant struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
}

// String returns a string variant.
func String(s string) Variant { return Variant{Kind: KindString, Str: s} }

// Number returns a numeric variant.
func Number(n float64) Variant { return Variant{Kind: KindNumber, Num: n} }

// Time returns a datetime variant.
func Time(t time.Time) Variant { return Variant{Kind: KindTime, Time: t} }

// IsTime reports whether the variant holds a datetime.
func (v Variant) IsTime() bool { return v.Kind == KindTime }

// Shift returns the variant moved by d if it holds a datetime, otherwise v unchanged.
func (v Variant) Shift(d time.Duration) Variant {
	if v.Kind != KindTime || d == 0 {
		return v
	}
	v.Time = v.Time.Add(d)
	return v
}

// Equal compares kind and value. Datetimes compare by instant.
func (v Variant) Equal(o Variant) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindTime:
		return v.Time.Equal(o.Time)
	default:
		return true
	}
}

func (v Variant) String() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindTime:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// SubscriptionRequest asks the session to subscribe a topic.
// Re-subscribing an active TopicID replaces the prior subscription.
type SubscriptionRequest struct {
	TopicID int
	Params  []Variant
}

// CancelRequest asks the session to drop a topic. Unknown topics are ignored.
type CancelRequest struct {
	TopicID int
}

// -----------------------------------------------------------------------------
// Reports
// -----------------------------------------------------------------------------

// Row is one updated topic value.
type Row struct {
	TopicID   int
	Value     Variant
	Timestamp *time.Time // nil when the source did not stamp the row
}

// DataReport is a batch of topic updates from one push event.
// Count always equals len(Rows) once normalized.
type DataReport struct {
	Count int
	Rows  []Row
}

// NewDataReport builds a report with a consistent count.
func NewDataReport(rows []Row) DataReport {
	return DataReport{Count: len(rows), Rows: rows}
}

// Normalize fixes Count to match the rows and reports whether it had to.
func (r *DataReport) Normalize() bool {
	if r.Count == len(r.Rows) {
		return false
	}
	r.Count = len(r.Rows)
	return true
}

// Shift returns a copy of the report with every timestamp-valued field moved by d.
// The receiver is not modified.
func (r DataReport) Shift(d time.Duration) DataReport {
	out := DataReport{Count: len(r.Rows), Rows: make([]Row, len(r.Rows))}
	for i, row := range r.Rows {
		shifted := Row{TopicID: row.TopicID, Value: row.Value.Shift(d)}
		if row.Timestamp != nil {
			ts := row.Timestamp.Add(d)
			shifted.Timestamp = &ts
		}
		out.Rows[i] = shifted
	}
	return out
}

// ErrorCode classifies an ErrorReport.
type ErrorCode string

const (
	CodeNotConnected  ErrorCode = "NotConnected"
	CodeProviderError ErrorCode = "ProviderError"
	CodeInternalError ErrorCode = "InternalError"
)

// ErrorReport is the error response to a rejected request.
type ErrorReport struct {
	Code    ErrorCode
	TopicID int
	Message string
}

func (e ErrorReport) String() string {
	return fmt.Sprintf("%s (topic %d): %s", e.Code, e.TopicID, e.Message)
}
