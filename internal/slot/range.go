package slot

import (
	"encoding/json"
	"fmt"
	"time"
)

// Range is the half-open interval [Start, End). Ranges built by merging never
// cross midnight; End may sit exactly on the next day's 00:00.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange returns [start, start+d).
func NewRange(start time.Time, d time.Duration) Range {
	return Range{Start: start, End: start.Add(d)}
}

func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Valid reports End > Start.
func (r Range) Valid() bool {
	return r.End.After(r.Start)
}

// StartSlot returns the slot at Start.
func (r Range) StartSlot() Slot {
	return slotOf(r.Start)
}

// EndSlot returns the slot at End; an end at 24:00 is the next day's 00:00.
func (r Range) EndSlot() Slot {
	return slotOf(r.End)
}

// Contains reports whether t is within [Start, End).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Overlaps reports whether r and o share any instant.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Equal compares instants, ignoring location pointers.
func (r Range) Equal(o Range) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// Label is the human-readable form shown to invitees, e.g.
// "Sat Jun 1 10:00–11:30".
func (r Range) Label() string {
	end := r.End.Format("15:04")
	if !Day(r.End, nil).Equal(Day(r.Start, nil)) && r.End.Hour() == 0 && r.End.Minute() == 0 {
		end = "24:00"
	}
	return fmt.Sprintf("%s %s–%s", r.Start.Format("Mon Jan 2"), r.Start.Format("15:04"), end)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

type rangeJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// MarshalJSON emits the hand-off shape consumed by poll creation.
func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangeJSON{Start: r.Start, End: r.End, Label: r.Label()})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var raw rangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Start, r.End = raw.Start, raw.End
	return nil
}

func slotOf(t time.Time) Slot {
	return Slot{Day: Day(t, nil), Hour: t.Hour(), Minute: t.Minute()}
}
