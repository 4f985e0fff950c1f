package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Millis is a timestamp carried on the wire as milliseconds since the Unix
// epoch. The backend stores dates as floating-point numbers, so fractional
// values are accepted and truncated.
type Millis struct {
	time.Time
}

// NewMillis wraps t.
func NewMillis(t time.Time) Millis {
	return Millis{Time: t}
}

// MillisFromInt converts a millisecond epoch value.
func MillisFromInt(ms int64) Millis {
	return Millis{Time: time.UnixMilli(ms)}
}

// UnixMilli returns the wire representation.
func (m Millis) UnixMilli() int64 {
	return m.Time.UnixMilli()
}

// MarshalJSON encodes the timestamp as integer milliseconds; the zero time
// encodes as null.
func (m Millis) MarshalJSON() ([]byte, error) {
	if m.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", m.Time.UnixMilli())), nil
}

// UnmarshalJSON decodes a numeric millisecond epoch. ISO strings are
// rejected.
func (m *Millis) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		m.Time = time.Time{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return fmt.Errorf("date must be milliseconds since epoch: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("date must be a finite number")
	}
	if math.Abs(f) >= math.MaxInt64 {
		return fmt.Errorf("date %v is out of range", f)
	}
	m.Time = time.UnixMilli(int64(f))
	return nil
}
