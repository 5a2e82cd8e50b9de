package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 30*time.Second, "2h 0m 30s"},
		{72*time.Hour + 30*time.Minute + 15*time.Second, "3d 0h 30m 15s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.Equal(t, "-", FormatTimePtr(nil))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ts.Local().Format(LocalTimeFormat), FormatTimePtr(&ts))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "1h 0m 0s ago", FormatAge(now.Add(-time.Hour), now))
	assert.Equal(t, "-", FormatAge(time.Time{}, now))
}
