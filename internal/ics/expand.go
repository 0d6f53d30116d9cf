package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/model"
)

const defaultMaxPerSeries = 5000

// ExpandOptions bounds recurrence expansion.
type ExpandOptions struct {
	// Location is the zone events are converted into. Nil means time.Local.
	Location *time.Location
	// From / To is the half-open window events must intersect.
	From time.Time
	To   time.Time
	// MaxPerSeries caps instances per UID; zero means 5000.
	MaxPerSeries int
	// IncludeTransparent keeps TRANSP:TRANSPARENT events, which do not block
	// time by default.
	IncludeTransparent bool
}

// Expand turns parsed VEVENTs into concrete busy events intersecting
// [From, To), applying RRULE, EXDATE and RECURRENCE-ID overrides. The result is
// sorted by start.
func Expand(events []VEvent, opts ExpandOptions) ([]model.Event, error) {
	if opts.To.Before(opts.From) {
		return nil, errors.New("expand: window ends before it starts")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxPerSeries <= 0 {
		opts.MaxPerSeries = defaultMaxPerSeries
	}

	masters := make(map[string][]VEvent)
	overrides := make(map[string][]VEvent)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		masters[ev.UID] = append(masters[ev.UID], ev)
	}

	out := make([]model.Event, 0)
	for uid, series := range masters {
		for _, master := range series {
			if master.RRule == "" {
				out = appendIfVisible(out, master, master.Start, master.End, opts)
				continue
			}
			instances, capped := expandSeries(master, overrides[uid], opts)
			if capped {
				appLog.Error("expand: series truncated", errors.New("max instances reached"),
					"uid", uid, "cap", opts.MaxPerSeries)
			}
			out = append(out, instances...)
		}
	}

	// Overrides whose master is missing from the feed still block time.
	for uid, ovs := range overrides {
		if _, ok := masters[uid]; ok {
			continue
		}
		for _, ov := range ovs {
			out = appendIfVisible(out, ov, ov.Start, ov.End, opts)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandSeries(master VEvent, overrides []VEvent, opts ExpandOptions) ([]model.Event, bool) {
	var out []model.Event

	rule, err := rrule.StrToRRule(master.RRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", master.UID, "rrule", master.RRule)
		return out, false
	}
	rule.DTStart(master.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range master.ExDates {
		set.ExDate(ex.In(master.Start.Location()))
	}

	length := master.End.Sub(master.Start)
	// Widen the lower bound by the event length so instances that started
	// before the window but are still running are included.
	from := opts.From.Add(-length).In(master.Start.Location())
	to := opts.To.In(master.Start.Location())

	starts := set.Between(from, to, true)
	capped := false
	if len(starts) > opts.MaxPerSeries {
		starts = starts[:opts.MaxPerSeries]
		capped = true
	}

	for _, start := range starts {
		inst, end := master, start.Add(length)
		if master.AllDay {
			end = start.AddDate(0, 0, int(length.Hours()/24+0.5))
		}
		if ov, ok := findOverride(overrides, start); ok {
			inst, start, end = ov, ov.Start, ov.End
		}
		out = appendIfVisible(out, inst, start, end, opts)
	}
	return out, capped
}

func findOverride(overrides []VEvent, start time.Time) (VEvent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID != nil && ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return VEvent{}, false
}

func appendIfVisible(out []model.Event, ev VEvent, start, end time.Time, opts ExpandOptions) []model.Event {
	if ev.Transparent && !opts.IncludeTransparent {
		return out
	}
	busy := model.Event{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Title:    ev.Summary,
		AllDay:   ev.AllDay,
		Start:    start.In(opts.Location),
		End:      end.In(opts.Location),
	}
	if !busy.Overlaps(opts.From, opts.To) {
		return out
	}
	return append(out, busy)
}
