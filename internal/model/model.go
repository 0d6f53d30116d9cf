package model

import "time"

// Event is a concrete busy interval supplied by a calendar provider, already
// expanded from any recurrence and converted into the display timezone.
type Event struct {
	SourceID string // calendar source ID (e.g., config ICS ID)
	UID      string // iCalendar UID

	Title string

	AllDay bool

	// Start / End are the half-open interval [Start, End).
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within [Start, End).
func (e Event) Contains(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}

// Overlaps reports whether the event intersects [start, end).
func (e Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}
