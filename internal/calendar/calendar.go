// Package calendar computes the report dates of a run.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the date format passed to queries and used in file names.
const DateLayout = "2006-01-02"

// DefaultZone is the zone report dates are computed in.
const DefaultZone = "Asia/Ho_Chi_Minh"

// Calendar computes dates in a fixed location.
type Calendar struct {
	loc *time.Location
}

// New loads zone. An empty zone uses DefaultZone.
func New(zone string) (*Calendar, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", zone, err)
	}
	return &Calendar{loc: loc}, nil
}

// Location returns the calendar's location.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Today returns the date of now in the calendar's location.
func (c *Calendar) Today(now time.Time) string {
	return now.In(c.loc).Format(DateLayout)
}

// DailyDates returns the days calendar days before today, oldest first.
// Today is excluded.
func (c *Calendar) DailyDates(now time.Time, days int) []string {
	if days <= 0 {
		return nil
	}
	today := c.midnight(now)
	dates := make([]string, 0, days)
	for i := days; i >= 1; i-- {
		dates = append(dates, today.AddDate(0, 0, -i).Format(DateLayout))
	}
	return dates
}

// MonthWindow returns the first day of the month containing now minus
// lookbackDays, and today.
func (c *Calendar) MonthWindow(now time.Time, lookbackDays int) (start, end string) {
	local := now.In(c.loc)
	back := local.AddDate(0, 0, -lookbackDays)
	first := time.Date(back.Year(), back.Month(), 1, 0, 0, 0, 0, c.loc)
	return first.Format(DateLayout), local.Format(DateLayout)
}

func (c *Calendar) midnight(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}
