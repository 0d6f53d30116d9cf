// Package availability turns a raw slot selection into availability ranges
// and, in time-slots mode, into fixed-length candidate meeting windows.
package availability

import (
	"sort"
	"time"

	"hangoutcal/internal/slot"
)

// Merge consolidates slots into maximal contiguous ranges per calendar day,
// ordered by start instant. Duplicates collapse; ranges never cross midnight.
// Slots whose wall-clock time does not exist on their day are dropped.
// The result is never nil.
func Merge(slots []slot.Slot, granularity time.Duration) []slot.Range {
	out := make([]slot.Range, 0)
	if len(slots) == 0 || granularity <= 0 {
		return out
	}

	byDay := make(map[time.Time][]slot.Slot)
	seen := make(map[slot.Slot]bool, len(slots))
	for _, s := range slots {
		s.Day = slot.Day(s.Day, nil)
		if seen[s] || !s.Exists() {
			continue
		}
		seen[s] = true
		byDay[s.Day] = append(byDay[s.Day], s)
	}

	for _, daySlots := range byDay {
		out = append(out, mergeDay(daySlots, granularity)...)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// MergeSet is Merge over a set keyed by slot.
func MergeSet(set map[slot.Slot]struct{}, granularity time.Duration) []slot.Range {
	slots := make([]slot.Slot, 0, len(set))
	for s := range set {
		slots = append(slots, s)
	}
	return Merge(slots, granularity)
}

// mergeDay walks one day's slots in wall-clock order. A range ends where its
// last slot's cell ends, so adjacency follows the grid across a clock change.
func mergeDay(slots []slot.Slot, granularity time.Duration) []slot.Range {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].MinuteOfDay() < slots[j].MinuteOfDay()
	})

	var out []slot.Range
	cur := slot.Range{Start: slots[0].Instant(), End: slots[0].End(granularity)}
	for _, s := range slots[1:] {
		at := s.Instant()
		if at.Equal(cur.End) {
			cur.End = s.End(granularity)
			continue
		}
		out = append(out, cur)
		cur = slot.Range{Start: at, End: s.End(granularity)}
	}
	return append(out, cur)
}

// Expand lists the existing grid slots covered by ranges, walking wall-clock
// time from each range's start. A tail shorter than one granularity unit
// contributes nothing.
func Expand(ranges []slot.Range, granularity time.Duration) []slot.Slot {
	var out []slot.Slot
	step := int(granularity / time.Minute)
	if step <= 0 {
		return out
	}
	for _, r := range ranges {
		first := r.StartSlot()
		m := first.MinuteOfDay()
		for day := first.Day; day.Before(r.End); day, m = day.AddDate(0, 0, 1), 0 {
			for ; m < minutesPerDay; m += step {
				s := slot.Slot{Day: day, Hour: m / 60, Minute: m % 60}
				if !s.Exists() {
					continue
				}
				if s.End(granularity).After(r.End) {
					break
				}
				out = append(out, s)
			}
		}
	}
	return out
}

const minutesPerDay = 24 * 60
