// Package maintenance grades equipment maintenance schedules against current
// usage and the clock. Assessment is pure; persisting alerts and enforcing
// usage blocks is the engine's and the caller's business respectively.
package maintenance

import (
	"fmt"
	"time"

	"siteline/internal/domain"
	"siteline/internal/recurrence"
)

// Assessment is the outcome of grading one schedule.
//
// AlertType is empty when nothing is due or approaching. IsBlocked is only a
// surfaced flag: a schedule with BlockUsageWhenOverdue set and at least one
// breached axis. This package never prevents equipment use itself.
type Assessment struct {
	ScheduleID    string
	EquipmentID   string
	AlertType     string
	Message       string
	HoursBreached bool
	DateBreached  bool
	IsBlocked     bool
	NextDueHours  *float64
	NextDueAt     *time.Time
}

// Assess grades a schedule given the equipment's current usage-hour reading
// and the current instant.
//
// Severity: critical only when both the hour axis and the calendar axis are
// breached at once; overdue when exactly one is; due when the calendar due
// date is today but the due instant has not yet passed; upcoming when within
// the warning threshold of either due point.
func Assess(s domain.MaintenanceSchedule, currentHours float64, now time.Time) Assessment {
	a := Assessment{ScheduleID: s.ID, EquipmentID: s.EquipmentID}

	var hoursWarn, dateWarn, dueToday bool

	if s.FrequencyHours != nil {
		due := recurrence.NextDueHours(s.LastPerformedHours, currentHours, *s.FrequencyHours)
		// A stored due point is only trusted once a service anchored it;
		// never-serviced schedules measure from the current reading.
		if s.NextDueHours != nil && s.LastPerformedHours != nil {
			due = *s.NextDueHours
		}
		a.NextDueHours = &due
		if currentHours >= due {
			a.HoursBreached = true
		} else if s.WarningThresholdHours != nil && currentHours >= due-*s.WarningThresholdHours {
			hoursWarn = true
		}
	}

	if s.FrequencyDays != nil {
		var due time.Time
		if s.NextDueAt != nil {
			if t, err := time.Parse(time.RFC3339, *s.NextDueAt); err == nil {
				due = t
			}
		}
		if due.IsZero() {
			var last *time.Time
			if s.LastPerformedAt != nil {
				if t, err := time.Parse(time.RFC3339, *s.LastPerformedAt); err == nil {
					last = &t
				}
			}
			due = recurrence.NextDueAt(last, now, *s.FrequencyDays)
		}
		a.NextDueAt = &due
		switch {
		case now.After(due):
			a.DateBreached = true
		default:
			y1, m1, d1 := now.UTC().Date()
			y2, m2, d2 := due.UTC().Date()
			if y1 == y2 && m1 == m2 && d1 == d2 {
				dueToday = true
			} else if s.WarningThresholdDays != nil && !now.Before(due.AddDate(0, 0, -*s.WarningThresholdDays)) {
				dateWarn = true
			}
		}
	}

	switch {
	case a.HoursBreached && a.DateBreached:
		a.AlertType = domain.AlertCritical
		a.Message = fmt.Sprintf("%s overdue on both usage hours and calendar", s.MaintenanceType)
	case a.HoursBreached:
		a.AlertType = domain.AlertOverdue
		a.Message = fmt.Sprintf("%s overdue: %.1fh past the %.1fh service point", s.MaintenanceType, currentHours-deref(a.NextDueHours), deref(a.NextDueHours))
	case a.DateBreached:
		a.AlertType = domain.AlertOverdue
		a.Message = fmt.Sprintf("%s overdue since %s", s.MaintenanceType, a.NextDueAt.Format("2006-01-02"))
	case dueToday:
		a.AlertType = domain.AlertDue
		a.Message = fmt.Sprintf("%s due today", s.MaintenanceType)
	case hoursWarn || dateWarn:
		a.AlertType = domain.AlertUpcoming
		a.Message = fmt.Sprintf("%s approaching its service point", s.MaintenanceType)
	}

	if s.BlockUsageWhenOverdue && (a.HoursBreached || a.DateBreached) {
		a.IsBlocked = true
	}
	return a
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
