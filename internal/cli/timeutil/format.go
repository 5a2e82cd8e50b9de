// Package timeutil formats times and durations for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is the format used for displaying local times.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatDuration renders d as "3d 0h 30m 15s", dropping leading zero
// units. Sub-second durations keep millisecond precision.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatTime renders t in local time, or "-" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(LocalTimeFormat)
}

// FormatTimePtr is FormatTime for optional timestamps.
func FormatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return FormatTime(*t)
}

// FormatAge renders how long before now t happened, e.g. "2h 5m 0s ago".
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return FormatDuration(now.Sub(t)) + " ago"
}
