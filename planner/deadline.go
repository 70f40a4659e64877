package planner

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for all planner dates.
const DateLayout = "2006-01-02"

// ParseISODate parses a strict YYYY-MM-DD date value.
func ParseISODate(value any) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: event_date must be an ISO date string (YYYY-MM-DD)", ErrInput)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: event_date must be an ISO date string (YYYY-MM-DD)", ErrInput)
	}
	return t, nil
}

// ComputeDeadline returns the calendar deadline for a task relative to the
// anchor event date. Grace days extend the deadline past the nominal offset.
func ComputeDeadline(eventDate time.Time, relativeDays, graceDays int) time.Time {
	return eventDate.AddDate(0, 0, relativeDays+graceDays)
}
