package feed

import (
	"strings"
	"time"

	"github.com/rickgao/rtdbridge/internal/model"
)

// probePrefix marks a string subscription parameter as a time probe. The rest
// of the string is the consumer's clock in RFC 3339 with nanoseconds.
const probePrefix = "reqtime:"

// ProbeParam returns a time-probe parameter carrying t.
func ProbeParam(t time.Time) model.Variant {
	return model.String(probePrefix + t.UTC().Format(time.RFC3339Nano))
}

// ParseProbe reports whether v is a time probe and returns its instant.
func ParseProbe(v model.Variant) (time.Time, bool) {
	if v.Kind != model.KindString || !strings.HasPrefix(v.Str, probePrefix) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(v.Str, probePrefix))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FindProbe returns the index and instant of the first time probe in params.
func FindProbe(params []model.Variant) (int, time.Time, bool) {
	for i, p := range params {
		if t, ok := ParseProbe(p); ok {
			return i, t, true
		}
	}
	return -1, time.Time{}, false
}

// Skew is the offset between a consumer's clock and the bridge clock.
// The zero value applies no correction.
type Skew struct {
	offset   time.Duration
	probedAt time.Time
}

// Observe replaces the offset with consumer - bridge.
func (k *Skew) Observe(consumer, bridge time.Time) {
	k.offset = consumer.Sub(bridge)
	k.probedAt = bridge
}

// Offset returns the duration to add to outbound timestamps.
func (k Skew) Offset() time.Duration { return k.offset }

// ProbedAt returns the bridge time of the last probe, zero if none.
func (k Skew) ProbedAt() time.Time { return k.probedAt }

// Apply returns a copy of report expressed in the consumer's clock.
func (k Skew) Apply(report model.DataReport) model.DataReport {
	return report.Shift(k.offset)
}
