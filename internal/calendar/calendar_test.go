package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := New("")
	require.NoError(t, err)
	return c
}

func TestNew_InvalidZone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestDailyDates(t *testing.T) {
	c := mustCalendar(t)
	// 2026-10-19 01:30 in Ho Chi Minh City is still 2026-10-18 in UTC
	now := time.Date(2026, 10, 18, 18, 30, 0, 0, time.UTC)

	dates := c.DailyDates(now, 30)

	require.Len(t, dates, 30)
	assert.Equal(t, "2026-09-19", dates[0])
	assert.Equal(t, "2026-10-18", dates[29])
	assert.NotContains(t, dates, "2026-10-19", "today is excluded")
	assert.Equal(t, "2026-10-19", c.Today(now))
}

func TestDailyDates_Zero(t *testing.T) {
	assert.Empty(t, mustCalendar(t).DailyDates(time.Now(), 0))
}

func TestMonthWindow(t *testing.T) {
	c := mustCalendar(t)

	tests := []struct {
		name      string
		now       time.Time
		wantStart string
		wantEnd   string
	}{
		{
			name:      "mid october",
			now:       time.Date(2026, 10, 19, 8, 0, 0, 0, c.Location()),
			wantStart: "2026-08-01",
			wantEnd:   "2026-10-19",
		},
		{
			name:      "crosses year",
			now:       time.Date(2027, 1, 15, 8, 0, 0, 0, c.Location()),
			wantStart: "2026-11-01",
			wantEnd:   "2027-01-15",
		},
		{
			name:      "march after short february",
			now:       time.Date(2027, 3, 1, 8, 0, 0, 0, c.Location()),
			wantStart: "2026-12-01",
			wantEnd:   "2027-03-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := c.MonthWindow(tt.now, 61)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}
