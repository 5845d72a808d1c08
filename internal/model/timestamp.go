package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is a time serialised as epoch milliseconds.
type Timestamp struct {
	time.Time
}

// TimestampFromMillis builds a UTC Timestamp.
func TimestampFromMillis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms).UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", t.UnixMilli())), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var ms json.Number
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("%w: timestamp %s", ErrMalformed, b)
	}
	// Some payloads carry fractional milliseconds.
	f, err := ms.Float64()
	if err != nil {
		return fmt.Errorf("%w: timestamp %s", ErrMalformed, b)
	}
	*t = TimestampFromMillis(int64(f))
	return nil
}
