package availability

import (
	"fmt"
	"strings"
	"time"

	"hangoutcal/internal/slot"
)

// Mode selects which projection of the selection is shown.
type Mode string

const (
	// ModeAvailability shows merged free-time ranges as selected.
	ModeAvailability Mode = "availability"
	// ModeTimeSlots shows fixed-duration candidate meeting windows.
	ModeTimeSlots Mode = "timeslots"
)

// ParseMode accepts "availability" and "timeslots" (also "time-slots",
// "time_slots"), case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s)) {
	case "", string(ModeAvailability):
		return ModeAvailability, nil
	case string(ModeTimeSlots):
		return ModeTimeSlots, nil
	default:
		return "", fmt.Errorf("availability: unknown mode %q", s)
	}
}

// Policy is how a range is sliced in time-slots mode.
type Policy int

const (
	// PolicyTiling emits back-to-back windows stepping by the duration.
	PolicyTiling Policy = iota
	// PolicySlidingWindow emits windows stepping by the granularity, so
	// consecutive windows overlap by duration-granularity. This gives invitees
	// every possible start time and is intended.
	PolicySlidingWindow
)

func (p Policy) String() string {
	if p == PolicySlidingWindow {
		return "sliding-window"
	}
	return "tiling"
}

// PolicyFor picks tiling when the duration equals the granularity and the
// sliding window for longer durations.
func PolicyFor(duration, granularity time.Duration) Policy {
	if duration > granularity {
		return PolicySlidingWindow
	}
	return PolicyTiling
}

// Segment projects ranges for mode. In ModeAvailability it returns ranges
// unchanged. In ModeTimeSlots it validates duration, then slices every range
// independently, keeping input order.
func Segment(ranges []slot.Range, mode Mode, duration, granularity time.Duration) ([]slot.Range, error) {
	if mode != ModeTimeSlots {
		return ranges, nil
	}
	if err := slot.ValidateDuration(duration, granularity); err != nil {
		return nil, err
	}

	policy := PolicyFor(duration, granularity)
	out := make([]slot.Range, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, SegmentRange(r, policy, duration, granularity)...)
	}
	return out, nil
}

// SegmentRange slices one range. Windows that would run past r.End are not
// emitted, so a range shorter than duration yields nothing.
func SegmentRange(r slot.Range, policy Policy, duration, granularity time.Duration) []slot.Range {
	if duration <= 0 {
		return nil
	}
	step := duration
	if policy == PolicySlidingWindow {
		if granularity <= 0 {
			return nil
		}
		step = granularity
	}

	var out []slot.Range
	for start := r.Start; !start.Add(duration).After(r.End); start = start.Add(step) {
		out = append(out, slot.NewRange(start, duration))
	}
	return out
}
