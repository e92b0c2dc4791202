package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariant_Shift(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   Variant
		d    time.Duration
		want Variant
	}{
		{name: "datetime moves", in: Time(base), d: 3 * time.Second, want: Time(base.Add(3 * time.Second))},
		{name: "negative offset", in: Time(base), d: -time.Minute, want: Time(base.Add(-time.Minute))},
		{name: "number untouched", in: Number(3.14), d: time.Hour, want: Number(3.14)},
		{name: "string untouched", in: String("X"), d: time.Hour, want: String("X")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Shift(tt.d)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestVariant_String(t *testing.T) {
	assert.Equal(t, `"abc"`, String("abc").String())
	assert.Equal(t, "3.14", Number(3.14).String())
	assert.Equal(t, "2024-01-15T12:00:00.5Z", Time(time.Date(2024, 1, 15, 12, 0, 0, 500000000, time.UTC)).String())
	assert.Equal(t, "<invalid>", Variant{}.String())
}

func TestDataReport_Normalize(t *testing.T) {
	r := DataReport{Count: 5, Rows: []Row{{TopicID: 1, Value: Number(1)}}}
	require.True(t, r.Normalize())
	assert.Equal(t, 1, r.Count)
	assert.False(t, r.Normalize())

	assert.Equal(t, 2, NewDataReport(make([]Row, 2)).Count)
}

func TestDataReport_Shift(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	when := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	r := NewDataReport([]Row{
		{TopicID: 7, Value: Number(3.14), Timestamp: &ts},
		{TopicID: 8, Value: Time(when)},
	})

	shifted := r.Shift(2 * time.Second)

	require.Len(t, shifted.Rows, 2)
	assert.Equal(t, ts.Add(2*time.Second), *shifted.Rows[0].Timestamp)
	assert.True(t, shifted.Rows[0].Value.Equal(Number(3.14)))
	assert.Nil(t, shifted.Rows[1].Timestamp)
	assert.Equal(t, when.Add(2*time.Second), shifted.Rows[1].Value.Time)

	// original untouched
	assert.Equal(t, ts, *r.Rows[0].Timestamp)
	assert.Equal(t, when, r.Rows[1].Value.Time)
}
