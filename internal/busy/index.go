// Package busy caches externally supplied calendar events per day and answers
// whether a grid slot is busy.
package busy

import (
	"context"
	"sort"
	"sync"
	"time"

	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/metrics"
	"hangoutcal/internal/model"
	"hangoutcal/internal/slot"
)

// Provider supplies the events of one calendar day. Implementations own
// fetching, retries and caching; the index only reads their results.
type Provider interface {
	FetchEvents(ctx context.Context, day time.Time) ([]model.Event, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, day time.Time) ([]model.Event, error)

func (f ProviderFunc) FetchEvents(ctx context.Context, day time.Time) ([]model.Event, error) {
	return f(ctx, day)
}

// Index maps a calendar day to its events. Lookups for a day that has not been
// populated return no events. Safe for concurrent use.
type Index struct {
	loc     *time.Location
	metrics *metrics.Recorder

	mu   sync.RWMutex
	days map[string][]model.Event
}

// NewIndex creates an empty index whose day boundaries follow loc.
// rec may be nil.
func NewIndex(loc *time.Location, rec *metrics.Recorder) *Index {
	if loc == nil {
		loc = time.Local
	}
	return &Index{
		loc:     loc,
		metrics: rec,
		days:    make(map[string][]model.Event),
	}
}

// Location returns the zone used for day keys.
func (x *Index) Location() *time.Location {
	return x.loc
}

func (x *Index) key(day time.Time) string {
	return day.In(x.loc).Format("2006-01-02")
}

// Set replaces the events cached for day.
func (x *Index) Set(day time.Time, events []model.Event) {
	cp := append([]model.Event(nil), events...)
	x.mu.Lock()
	x.days[x.key(day)] = cp
	x.mu.Unlock()
}

// Invalidate drops the cached entry for day.
func (x *Index) Invalidate(day time.Time) {
	x.mu.Lock()
	delete(x.days, x.key(day))
	x.mu.Unlock()
}

// Reset drops every cached day.
func (x *Index) Reset() {
	x.mu.Lock()
	x.days = make(map[string][]model.Event)
	x.mu.Unlock()
}

// Retain drops every day outside [from, to] (day granularity).
func (x *Index) Retain(from, to time.Time) {
	lo, hi := x.key(from), x.key(to)
	x.mu.Lock()
	for k := range x.days {
		if k < lo || k > hi {
			delete(x.days, k)
		}
	}
	x.mu.Unlock()
}

// Days lists the cached day keys (YYYY-MM-DD) in order.
func (x *Index) Days() []string {
	x.mu.RLock()
	out := make([]string, 0, len(x.days))
	for k := range x.days {
		out = append(out, k)
	}
	x.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Events returns a copy of the events cached for day and whether the day has
// been populated at all.
func (x *Index) Events(day time.Time) ([]model.Event, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	events, ok := x.days[x.key(day)]
	return append([]model.Event(nil), events...), ok
}

// IsBusy reports whether any cached event contains the slot's start instant.
func (x *Index) IsBusy(s slot.Slot) bool {
	at := s.Instant()
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, ev := range x.days[x.key(s.Day)] {
		if ev.Contains(at) {
			return true
		}
	}
	return false
}

// OverlappingTitles returns the titles of every event containing the slot's
// start instant, in cached order.
func (x *Index) OverlappingTitles(s slot.Slot) []string {
	at := s.Instant()
	x.mu.RLock()
	defer x.mu.RUnlock()
	var titles []string
	for _, ev := range x.days[x.key(s.Day)] {
		if ev.Contains(at) {
			titles = append(titles, ev.Title)
		}
	}
	return titles
}

// Populate asks p for each day and caches the result. A day whose fetch fails
// is logged and dropped, so it reads as free rather than stale; the returned
// count is the number of days successfully stored. Populate stops early when
// ctx is done.
func (x *Index) Populate(ctx context.Context, p Provider, days []time.Time) int {
	stored := 0
	for _, day := range days {
		if ctx.Err() != nil {
			return stored
		}
		day = slot.Day(day, x.loc)
		events, err := p.FetchEvents(ctx, day)
		if err != nil {
			x.metrics.ObservePopulate(false)
			appLog.Error("busy index: fetch failed", err, "day", x.key(day))
			x.Invalidate(day)
			continue
		}
		x.metrics.ObservePopulate(true)
		x.Set(day, events)
		stored++
	}
	appLog.Debug("busy index populated", "requested", len(days), "stored", stored)
	return stored
}

// Window lists n consecutive days starting at the day containing from.
func Window(from time.Time, n int, loc *time.Location) []time.Time {
	start := slot.Day(from, loc)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start.AddDate(0, 0, i))
	}
	return out
}
