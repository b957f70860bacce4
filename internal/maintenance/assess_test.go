package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"siteline/internal/domain"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }
func strp(v string) *string  { return &v }

func hourSchedule() domain.MaintenanceSchedule {
	return domain.MaintenanceSchedule{
		ID:                    "sched-1",
		EquipmentID:           "excavator-7",
		MaintenanceType:       "250h service",
		FrequencyHours:        f64(250),
		LastPerformedHours:    f64(1000),
		NextDueHours:          f64(1250),
		WarningThresholdHours: f64(50),
	}
}

func TestHourAxisGrading(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 1210h: within 50h of the 1250h due point.
	a := Assess(hourSchedule(), 1210, now)
	assert.Equal(t, domain.AlertUpcoming, a.AlertType)
	assert.False(t, a.HoursBreached)

	// 1255h: past due on the hour axis only.
	a = Assess(hourSchedule(), 1255, now)
	assert.Equal(t, domain.AlertOverdue, a.AlertType)
	assert.True(t, a.HoursBreached)
	assert.False(t, a.DateBreached)

	// 1100h: nothing to report.
	a = Assess(hourSchedule(), 1100, now)
	assert.Empty(t, a.AlertType)
}

func TestCriticalRequiresBothAxes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := hourSchedule()
	s.FrequencyDays = intp(30)
	s.NextDueAt = strp(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC).Format(time.RFC3339))

	// Only the date axis breached: overdue, not critical.
	a := Assess(s, 1200, now)
	assert.Equal(t, domain.AlertOverdue, a.AlertType)
	assert.True(t, a.DateBreached)
	assert.False(t, a.HoursBreached)

	// Both axes breached: critical.
	a = Assess(s, 1300, now)
	assert.Equal(t, domain.AlertCritical, a.AlertType)
	assert.True(t, a.HoursBreached)
	assert.True(t, a.DateBreached)
}

func TestDueOnTheDueDate(t *testing.T) {
	s := domain.MaintenanceSchedule{
		ID:              "sched-2",
		EquipmentID:     "lift-3",
		MaintenanceType: "monthly inspection",
		FrequencyDays:   intp(30),
		NextDueAt:       strp("2025-06-01T17:00:00Z"),
	}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	a := Assess(s, 0, now)
	assert.Equal(t, domain.AlertDue, a.AlertType)
	assert.False(t, a.DateBreached)
}

func TestDateWarningThreshold(t *testing.T) {
	s := domain.MaintenanceSchedule{
		ID:                   "sched-3",
		EquipmentID:          "crane-1",
		MaintenanceType:      "annual certification",
		FrequencyDays:        intp(365),
		NextDueAt:            strp("2025-06-10T00:00:00Z"),
		WarningThresholdDays: intp(14),
	}
	a := Assess(s, 0, time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, domain.AlertUpcoming, a.AlertType)

	a = Assess(s, 0, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, a.AlertType)
}

func TestBlockUsageFlag(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := hourSchedule()
	s.BlockUsageWhenOverdue = true

	a := Assess(s, 1210, now)
	assert.False(t, a.IsBlocked, "upcoming does not block")

	a = Assess(s, 1300, now)
	assert.True(t, a.IsBlocked)
}

func TestNeverPerformedAnchorsOnCurrentReading(t *testing.T) {
	s := domain.MaintenanceSchedule{
		ID:              "sched-4",
		EquipmentID:     "gen-2",
		MaintenanceType: "oil change",
		FrequencyHours:  f64(100),
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := Assess(s, 480, now)
	assert.Empty(t, a.AlertType)
	assert.NotNil(t, a.NextDueHours)
	assert.Equal(t, 580.0, *a.NextDueHours)

	// A stored due point left over from before any service is not an anchor:
	// equipment with real meter hours must not grade overdue against it.
	s.NextDueHours = f64(100)
	s.BlockUsageWhenOverdue = true
	a = Assess(s, 480, now)
	assert.Empty(t, a.AlertType)
	assert.False(t, a.IsBlocked)
	assert.Equal(t, 580.0, *a.NextDueHours)
}
