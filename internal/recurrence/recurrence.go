// Package recurrence holds the pure cadence math shared by scheduled reports
// and maintenance schedules. All functions take the current instant as an
// argument; nothing here reads the wall clock or touches storage.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is a report cadence.
type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

// Descriptor describes a repeating schedule. DayOfWeek (0=Sunday..6=Saturday)
// applies to weekly/biweekly, DayOfMonth (1..31) to monthly/quarterly.
// TimeOfDay is "HH:MM" local to Timezone, an IANA zone name.
type Descriptor struct {
	Frequency  Frequency
	DayOfWeek  *int
	DayOfMonth *int
	TimeOfDay  string
	Timezone   string
}

// Validate rejects invalid descriptors at configuration time so that NextRun
// never has to cope with them.
func (d Descriptor) Validate() error {
	switch d.Frequency {
	case Daily:
		if d.DayOfWeek != nil || d.DayOfMonth != nil {
			return fmt.Errorf("daily schedules take neither day_of_week nor day_of_month")
		}
	case Weekly, Biweekly:
		if d.DayOfWeek == nil {
			return fmt.Errorf("%s schedules require day_of_week", d.Frequency)
		}
		if *d.DayOfWeek < 0 || *d.DayOfWeek > 6 {
			return fmt.Errorf("day_of_week %d out of range 0..6", *d.DayOfWeek)
		}
		if d.DayOfMonth != nil {
			return fmt.Errorf("%s schedules take no day_of_month", d.Frequency)
		}
	case Monthly, Quarterly:
		if d.DayOfMonth == nil {
			return fmt.Errorf("%s schedules require day_of_month", d.Frequency)
		}
		if *d.DayOfMonth < 1 || *d.DayOfMonth > 31 {
			return fmt.Errorf("day_of_month %d out of range 1..31", *d.DayOfMonth)
		}
		if d.DayOfWeek != nil {
			return fmt.Errorf("%s schedules take no day_of_week", d.Frequency)
		}
	default:
		return fmt.Errorf("unknown frequency %q", d.Frequency)
	}
	if _, _, err := parseTimeOfDay(d.TimeOfDay); err != nil {
		return err
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", d.Timezone, err)
	}
	return nil
}

// NextRun returns the next occurrence of the cadence strictly after now.
// The arithmetic happens in the descriptor's timezone; the result is an
// absolute instant (callers typically store it as UTC).
func NextRun(d Descriptor, now time.Time) (time.Time, error) {
	if err := d.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseTimeOfDay(d.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)

	switch d.Frequency {
	case Daily:
		candidate := at(local, 0, hour, minute, loc)
		if !candidate.After(now) {
			candidate = at(local.AddDate(0, 0, 1), 0, hour, minute, loc)
		}
		return candidate, nil

	case Weekly, Biweekly:
		step := 7
		if d.Frequency == Biweekly {
			step = 14
		}
		target := time.Weekday(*d.DayOfWeek)
		ahead := (int(target) - int(local.Weekday()) + 7) % 7
		candidate := at(local, ahead, hour, minute, loc)
		if !candidate.After(now) {
			candidate = at(local, ahead+step, hour, minute, loc)
		}
		return candidate, nil

	case Monthly, Quarterly:
		months := 1
		if d.Frequency == Quarterly {
			months = 3
		}
		candidate := monthlyAt(local.Year(), local.Month(), *d.DayOfMonth, hour, minute, loc)
		if !candidate.After(now) {
			next := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, months, 0)
			candidate = monthlyAt(next.Year(), next.Month(), *d.DayOfMonth, hour, minute, loc)
		}
		return candidate, nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", d.Frequency)
}

// at builds the instant for local's date plus dayOffset at hour:minute.
// time.Date normalizes nonexistent local times (spring-forward gaps) to a
// valid instant in loc.
func at(local time.Time, dayOffset, hour, minute int, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day()+dayOffset, hour, minute, 0, 0, loc)
}

// monthlyAt clamps day to the last day of the month rather than letting
// time.Date overflow into the next one.
func monthlyAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, fmt.Errorf("time_of_day %q must be HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day %q has invalid minute", s)
	}
	return hour, minute, nil
}
