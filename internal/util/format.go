// Package util provides small shared helpers.
package util

import (
	"fmt"
	"time"
)

// FormatDuration formats a duration for human-readable display.
// - Under 1 minute: "45s"
// - Under 1 hour: "5m 30s"
// - 1 hour or more: "1h 23m"
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %02dm", hours, minutes)
}
