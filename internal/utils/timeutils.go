package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseTimeParam accepts unix epoch milliseconds or an RFC3339 timestamp and
// returns epoch milliseconds.
func ParseTimeParam(value string) (int64, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative timestamp %d", ms)
		}
		return ms, nil
	}
	t, err := ParseRFC3339(value)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
