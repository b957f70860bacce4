package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestDailyNextRun(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	d := Descriptor{Frequency: Daily, TimeOfDay: "08:00", Timezone: "America/New_York"}

	// Before today's slot: today 08:00.
	now := time.Date(2025, 3, 3, 6, 30, 0, 0, loc)
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 8, 0, 0, 0, loc), got)

	// Exactly at the slot: strictly after means tomorrow.
	now = time.Date(2025, 3, 3, 8, 0, 0, 0, loc)
	got, err = NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 8, 0, 0, 0, loc), got)
}

func TestWeeklyNextRun(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	monday := intp(int(time.Monday))
	d := Descriptor{Frequency: Weekly, DayOfWeek: monday, TimeOfDay: "08:00", Timezone: "America/New_York"}

	// Monday 09:00 local is past the slot: next Monday, not the same day.
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, loc) // a Monday
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 9, 8, 0, 0, 0, loc), got)

	// Wednesday: the coming Monday.
	now = time.Date(2025, 6, 4, 12, 0, 0, 0, loc)
	got, err = NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 9, 8, 0, 0, 0, loc), got)
}

func TestBiweeklySkipsFourteenDays(t *testing.T) {
	loc := mustLoc(t, "America/Chicago")
	d := Descriptor{Frequency: Biweekly, DayOfWeek: intp(int(time.Friday)), TimeOfDay: "17:00", Timezone: "America/Chicago"}

	// Friday after the slot: 14 days out.
	now := time.Date(2025, 6, 6, 18, 0, 0, 0, loc) // a Friday
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 20, 17, 0, 0, 0, loc), got)
}

func TestMonthlyClampsToShortMonths(t *testing.T) {
	loc := mustLoc(t, "UTC")
	d := Descriptor{Frequency: Monthly, DayOfMonth: intp(31), TimeOfDay: "09:00", Timezone: "UTC"}

	// April has 30 days: due the 30th, never May 1.
	now := time.Date(2025, 4, 2, 0, 0, 0, 0, loc)
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 30, 9, 0, 0, 0, loc), got)

	// February in a leap year clamps to the 29th.
	now = time.Date(2024, 2, 1, 0, 0, 0, 0, loc)
	got, err = NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, loc), got)
}

func TestMonthlyAdvancesWhenPast(t *testing.T) {
	loc := mustLoc(t, "UTC")
	d := Descriptor{Frequency: Monthly, DayOfMonth: intp(15), TimeOfDay: "09:00", Timezone: "UTC"}
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, loc)
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 15, 9, 0, 0, 0, loc), got)
}

func TestQuarterlyAdvancesThreeMonths(t *testing.T) {
	loc := mustLoc(t, "UTC")
	d := Descriptor{Frequency: Quarterly, DayOfMonth: intp(1), TimeOfDay: "06:00", Timezone: "UTC"}
	now := time.Date(2025, 1, 1, 6, 0, 0, 0, loc) // exactly at the slot
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 1, 6, 0, 0, 0, loc), got)
}

func TestNextRunAcrossDSTBoundary(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	d := Descriptor{Frequency: Daily, TimeOfDay: "08:00", Timezone: "America/New_York"}

	// 2025-03-09 is the spring-forward date in America/New_York.
	now := time.Date(2025, 3, 8, 9, 0, 0, 0, loc)
	got, err := NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 8, 0, 0, 0, loc), got)
	// The local wall time stays 08:00 even though the UTC offset changed.
	assert.Equal(t, 8, got.In(loc).Hour())
	assert.True(t, got.After(now))

	// Weekly across fall-back.
	d = Descriptor{Frequency: Weekly, DayOfWeek: intp(int(time.Sunday)), TimeOfDay: "01:30", Timezone: "America/New_York"}
	now = time.Date(2025, 10, 31, 12, 0, 0, 0, loc)
	got, err = NextRun(d, now)
	require.NoError(t, err)
	assert.Equal(t, time.Weekday(time.Sunday), got.In(loc).Weekday())
	assert.True(t, got.After(now))
}

func TestNextRunStrictlyFuture(t *testing.T) {
	descriptors := []Descriptor{
		{Frequency: Daily, TimeOfDay: "00:00", Timezone: "UTC"},
		{Frequency: Weekly, DayOfWeek: intp(3), TimeOfDay: "12:00", Timezone: "America/New_York"},
		{Frequency: Biweekly, DayOfWeek: intp(0), TimeOfDay: "23:59", Timezone: "Europe/Paris"},
		{Frequency: Monthly, DayOfMonth: intp(31), TimeOfDay: "09:00", Timezone: "Asia/Tokyo"},
		{Frequency: Quarterly, DayOfMonth: intp(1), TimeOfDay: "06:00", Timezone: "America/Los_Angeles"},
	}
	instants := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 28, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC),  // during the US DST jump
		time.Date(2025, 11, 2, 6, 0, 0, 0, time.UTC), // fall-back morning
		time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC),
	}
	for _, d := range descriptors {
		for _, now := range instants {
			got, err := NextRun(d, now)
			require.NoError(t, err)
			assert.True(t, got.After(now), "freq=%s now=%s got=%s", d.Frequency, now, got)
			// Feeding the result back must advance again.
			next, err := NextRun(d, got)
			require.NoError(t, err)
			assert.True(t, next.After(got))
		}
	}
}

func TestDescriptorValidate(t *testing.T) {
	bad := []Descriptor{
		{Frequency: "hourly", TimeOfDay: "08:00", Timezone: "UTC"},
		{Frequency: Weekly, TimeOfDay: "08:00", Timezone: "UTC"},                          // missing day_of_week
		{Frequency: Weekly, DayOfWeek: intp(7), TimeOfDay: "08:00", Timezone: "UTC"},      // out of range
		{Frequency: Monthly, TimeOfDay: "08:00", Timezone: "UTC"},                         // missing day_of_month
		{Frequency: Monthly, DayOfMonth: intp(0), TimeOfDay: "08:00", Timezone: "UTC"},    // out of range
		{Frequency: Daily, DayOfMonth: intp(3), TimeOfDay: "08:00", Timezone: "UTC"},      // stray field
		{Frequency: Monthly, DayOfMonth: intp(3), DayOfWeek: intp(1), TimeOfDay: "08:00", Timezone: "UTC"},
		{Frequency: Daily, TimeOfDay: "25:00", Timezone: "UTC"},
		{Frequency: Daily, TimeOfDay: "08:00", Timezone: "Mars/Olympus"},
	}
	for _, d := range bad {
		assert.Error(t, d.Validate(), "%+v", d)
	}
	ok := Descriptor{Frequency: Biweekly, DayOfWeek: intp(5), TimeOfDay: "07:30", Timezone: "America/Denver"}
	assert.NoError(t, ok.Validate())
}

func TestMaintenanceDuePoints(t *testing.T) {
	last := 1000.0
	assert.Equal(t, 1250.0, NextDueHours(&last, 1210, 250))
	// Never serviced: anchor on the current reading.
	assert.Equal(t, 1460.0, NextDueHours(nil, 1210, 250))

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	performed := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), NextDueAt(&performed, now, 30))
	assert.Equal(t, time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC), NextDueAt(nil, now, 30))
}
