package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now()
	ts := FromTime(now)
	assert.True(t, ts.IsSet())
	assert.Equal(t, now.UnixNano(), ts.Time().UnixNano())
}

func TestZeroValue(t *testing.T) {
	var ts Timestamp
	assert.False(t, ts.IsSet())
	assert.True(t, ts.Time().IsZero())
	assert.Equal(t, "", ts.Format())
	assert.Equal(t, Timestamp(0), FromTime(time.Time{}))
}

func TestNowIsMonotonicEnough(t *testing.T) {
	a := Now()
	b := Now()
	assert.LessOrEqual(t, int64(a), int64(b))
}

func TestFormat(t *testing.T) {
	ts := FromTime(time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC))
	assert.Equal(t, "2024-03-01T12:00:00.0000005Z", ts.Format())
}
