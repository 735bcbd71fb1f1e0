package util //nolint:revive // package name util hosts shared formatting helpers for CLI output

import "time"

// FormatProcessingDuration formats a duration for display. Returns "-" for
// zero or negative durations and truncates to milliseconds for readability.
func FormatProcessingDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}

// FormatRuntime formats the execution span of a job. Jobs that never started
// render as "-"; jobs still running measure against the current clock.
func FormatRuntime(startedAt, completedAt *time.Time) string {
	if startedAt == nil {
		return "-"
	}
	end := time.Now()
	if completedAt != nil {
		end = *completedAt
	}
	return FormatProcessingDuration(end.Sub(*startedAt))
}
