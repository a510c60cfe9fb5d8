// Package timestamp provides nanosecond Unix timestamps for profiling.
//
// Profile events are ordered and differenced on the manager side, so the
// canonical format is int64 nanoseconds since the Unix epoch (UTC). A
// value of 0 means "not set".
package timestamp

import "time"

// Timestamp is a point in time as nanoseconds since the Unix epoch.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t.UnixNano())
}

// Time converts a Timestamp to a time.Time.
// Returns the zero time if the timestamp is 0.
func (ts Timestamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ts))
}

// IsSet reports whether the timestamp has been set.
func (ts Timestamp) IsSet() bool {
	return ts != 0
}

// Format renders the timestamp as RFC3339Nano for display.
// Returns the empty string if the timestamp is 0.
func (ts Timestamp) Format() string {
	if ts == 0 {
		return ""
	}
	return ts.Time().UTC().Format(time.RFC3339Nano)
}
