package schedule

import (
	"strings"
	"time"
)

const (
	FrequencyManual  = "manual"
	FrequencyHourly  = "hourly"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// NextRun computes the next scheduled execution after a run completing at
// now. Manual and unrecognized frequencies never reschedule. Daily, weekly
// and monthly steps use calendar arithmetic.
func NextRun(frequency string, now time.Time) *time.Time {
	var next time.Time
	switch strings.ToLower(strings.TrimSpace(frequency)) {
	case FrequencyHourly:
		next = now.Add(time.Hour)
	case FrequencyDaily:
		next = now.AddDate(0, 0, 1)
	case FrequencyWeekly:
		next = now.AddDate(0, 0, 7)
	case FrequencyMonthly:
		next = now.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}
