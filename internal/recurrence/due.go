package recurrence

import "time"

// Maintenance due points reuse the same pure-function discipline as NextRun:
// the caller supplies the clock, this package only does arithmetic. A schedule
// may carry an hour axis, a calendar axis, or both; "due" is the OR of the
// two, which the caller assembles.

// NextDueHours returns the usage-hour reading at which service is next due.
// Before any service is recorded the current reading anchors the interval.
func NextDueHours(lastPerformedHours *float64, currentHours, frequencyHours float64) float64 {
	base := currentHours
	if lastPerformedHours != nil {
		base = *lastPerformedHours
	}
	return base + frequencyHours
}

// NextDueAt returns the instant at which service is next due on the calendar
// axis. Before any service is recorded, now anchors the interval.
func NextDueAt(lastPerformedAt *time.Time, now time.Time, frequencyDays int) time.Time {
	base := now
	if lastPerformedAt != nil {
		base = *lastPerformedAt
	}
	return base.AddDate(0, 0, frequencyDays)
}
