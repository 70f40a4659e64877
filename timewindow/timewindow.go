// Package timewindow anchors all reminder timing decisions to Europe/Berlin
// wall-clock time: the daily send window, quiet-hours rescheduling targets,
// the due-soon horizon, and local-day boundaries for daily caps.
package timewindow

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	// Send window bounds, inclusive on both ends.
	sendWindowStartHour = 8
	sendWindowEndHour   = 20

	// DueSoonDays is the horizon for the due-soon reminder scan.
	DueSoonDays = 3

	// DayLayout is the wire format for local calendar days.
	DayLayout = "2006-01-02"

	zoneName = "Europe/Berlin"
)

var berlin = func() *time.Location {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		panic(fmt.Sprintf("load %s location: %v", zoneName, err))
	}
	return loc
}()

// Location returns the Europe/Berlin location.
func Location() *time.Location {
	return berlin
}

// InSendWindow reports whether the instant falls inside the local send
// window [08:00, 20:00]. Both boundaries are inclusive to the second;
// 20:00:00.000000001 is already outside.
func InSendWindow(t time.Time) bool {
	local := t.In(berlin)
	h, m, s := local.Clock()
	secondOfDay := h*3600 + m*60 + s

	if secondOfDay < sendWindowStartHour*3600 {
		return false
	}
	if secondOfDay > sendWindowEndHour*3600 {
		return false
	}
	if secondOfDay == sendWindowEndHour*3600 && local.Nanosecond() > 0 {
		return false
	}
	return true
}

// NextSendWindowStart returns the next local 08:00. Before 08:00 local that
// is today's window start, from 08:00 onward it is tomorrow's.
func NextSendWindowStart(t time.Time) time.Time {
	local := t.In(berlin)
	day := local
	if local.Hour() >= sendWindowStartHour {
		day = local.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), sendWindowStartHour, 0, 0, 0, berlin)
}

// DueSoonWindow returns the inclusive local calendar-day range
// [today, today+3d] as YYYY-MM-DD strings.
func DueSoonWindow(t time.Time) (from, to string) {
	local := t.In(berlin)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, berlin)
	end := start.AddDate(0, 0, DueSoonDays)
	return start.Format(DayLayout), end.Format(DayLayout)
}

// LocalDayISO returns the instant's local calendar day as YYYY-MM-DD.
func LocalDayISO(t time.Time) string {
	return t.In(berlin).Format(DayLayout)
}

// LocalDayBoundsUTC returns the UTC instants spanning the local calendar day
// containing t: [local midnight, next local midnight). DST transitions make
// some days 23 or 25 hours long.
func LocalDayBoundsUTC(t time.Time) (start, end time.Time) {
	local := t.In(berlin)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, berlin)
	return dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC()
}
