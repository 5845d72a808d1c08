package api

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// intParam reads an optional integer query parameter. An absent value
// yields def; anything outside [lo, hi] is an error. hi <= 0 means no
// upper bound.
func intParam(q url.Values, key string, def, lo, hi int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo {
		return 0, fmt.Errorf("invalid %s", key)
	}
	if hi > 0 && n > hi {
		return 0, fmt.Errorf("%s exceeds maximum of %d", key, hi)
	}
	return n, nil
}

// timeParam reads an optional RFC 3339 timestamp, fractional seconds
// allowed. An absent value yields the zero time.
func timeParam(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s timestamp", key)
	}
	return t.UTC(), nil
}
