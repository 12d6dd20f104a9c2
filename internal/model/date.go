package model

import (
	"fmt"
	"time"
)

// ParseDate reads a batch date override. It accepts RFC 3339 timestamps and
// plain YYYY-MM-DD dates, the latter taken as midnight UTC. An empty string
// means no override.
func ParseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q, expected RFC 3339 or YYYY-MM-DD", raw)
}
