// Package slot defines the selectable time unit (Slot) and the half-open
// interval (Range) that merging and segmentation produce.
package slot

import (
	"errors"
	"fmt"
	"time"
)

// DefaultGranularity is the length of one selectable slot.
const DefaultGranularity = 30 * time.Minute

var (
	ErrInvalidSlot     = errors.New("slot: invalid hour/minute for granularity")
	ErrInvalidDuration = errors.New("slot: duration is not a positive multiple of granularity")
)

// Slot is one cell of the selection grid: a calendar day plus a wall-clock
// (hour, minute). Slots are comparable and usable as map keys as long as Day
// was produced by Day() for the same location.
type Slot struct {
	Day    time.Time
	Hour   int
	Minute int
}

// Day strips the time-of-day from t in loc. A nil loc keeps t's location.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// New builds a slot on the given calendar day.
func New(day time.Time, hour, minute int) Slot {
	return Slot{Day: Day(day, nil), Hour: hour, Minute: minute}
}

// At returns the slot whose wall-clock start is t, truncated to granularity.
func At(t time.Time, loc *time.Location, granularity time.Duration) Slot {
	if loc != nil {
		t = t.In(loc)
	}
	step := int(granularity / time.Minute)
	if step <= 0 {
		step = int(DefaultGranularity / time.Minute)
	}
	return Slot{
		Day:    Day(t, nil),
		Hour:   t.Hour(),
		Minute: t.Minute() - t.Minute()%step,
	}
}

// Validate checks the hour/minute pair against granularity.
func Validate(s Slot, granularity time.Duration) error {
	step := int(granularity / time.Minute)
	if granularity <= 0 || granularity%time.Minute != 0 || step > 60 || 60%step != 0 {
		return fmt.Errorf("%w: granularity %s", ErrInvalidDuration, granularity)
	}
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 || s.Minute%step != 0 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidSlot, s.Hour, s.Minute)
	}
	if !s.Exists() {
		return fmt.Errorf("%w: %s is skipped by a clock change", ErrInvalidSlot, s)
	}
	return nil
}

// OnGrid reports whether t's wall-clock time falls on a granularity boundary.
func OnGrid(t time.Time, granularity time.Duration) bool {
	step := int(granularity / time.Minute)
	if step <= 0 {
		return false
	}
	return t.Second() == 0 && t.Nanosecond() == 0 && t.Minute()%step == 0
}

// ValidateDuration reports ErrInvalidDuration unless d is a positive integer
// multiple of granularity.
func ValidateDuration(d, granularity time.Duration) error {
	if granularity <= 0 || d <= 0 || d%granularity != 0 {
		return fmt.Errorf("%w: %s for granularity %s", ErrInvalidDuration, d, granularity)
	}
	return nil
}

// Instant is the wall-clock start of the slot.
func (s Slot) Instant() time.Time {
	return WallTime(s.Day, s.MinuteOfDay())
}

// Exists reports whether the slot's wall-clock time occurs on its day. Times
// inside a spring-forward gap do not.
func (s Slot) Exists() bool {
	at := s.Instant()
	return at.Hour() == s.Hour && at.Minute() == s.Minute
}

// End is where the slot's cell ends: the wall-clock time one granularity
// later, or the instant one granularity later when that wall-clock time falls
// in a spring-forward gap. On a fall-back day a cell can therefore span more
// than granularity of elapsed time.
func (s Slot) End(granularity time.Duration) time.Time {
	m := s.MinuteOfDay() + int(granularity/time.Minute)
	at := WallTime(s.Day, m)
	if at.Hour() != (m/60)%24 || at.Minute() != m%60 {
		return s.Instant().Add(granularity)
	}
	return at
}

// WallTime returns the instant at minute-of-day m on day's calendar date in
// day's location. m == 1440 is the next day's midnight.
func WallTime(day time.Time, m int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, 0, m, 0, 0, day.Location())
}

// MinuteOfDay returns Hour*60 + Minute.
func (s Slot) MinuteOfDay() int {
	return s.Hour*60 + s.Minute
}

// Before orders slots by day, then time of day.
func (s Slot) Before(o Slot) bool {
	if !s.Day.Equal(o.Day) {
		return s.Day.Before(o.Day)
	}
	return s.MinuteOfDay() < o.MinuteOfDay()
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %02d:%02d", s.Day.Format("2006-01-02"), s.Hour, s.Minute)
}
