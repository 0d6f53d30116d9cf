package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/model"
)

const defaultFeedTTL = 30 * time.Second

// Calendar serves busy events from a set of ICS feeds. It satisfies
// busy.Provider: the index asks for one day at a time, and Calendar reuses the
// parsed feeds across those calls for FeedTTL.
type Calendar struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	ttl     time.Duration

	mu       sync.Mutex
	parsed   []VEvent
	parsedAt time.Time
	now      func() time.Time
}

// NewCalendar wires feeds to a fetcher. Days are interpreted in loc.
func NewCalendar(fetcher *Fetcher, sources []Source, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{
		fetcher: fetcher,
		sources: sources,
		loc:     loc,
		ttl:     defaultFeedTTL,
		now:     time.Now,
	}
}

// FetchEvents returns the busy events intersecting the calendar day that
// contains day.
func (c *Calendar) FetchEvents(ctx context.Context, day time.Time) ([]model.Event, error) {
	events, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	y, m, d := day.In(c.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, c.loc)

	return Expand(events, ExpandOptions{
		Location: c.loc,
		From:     from,
		To:       from.AddDate(0, 0, 1),
	})
}

// Invalidate forces the next FetchEvents to hit the feeds again.
func (c *Calendar) Invalidate() {
	c.mu.Lock()
	c.parsed = nil
	c.parsedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Calendar) load(ctx context.Context) ([]VEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.parsed != nil && c.now().Sub(c.parsedAt) < c.ttl {
		return c.parsed, nil
	}
	if len(c.sources) == 0 {
		c.parsed, c.parsedAt = []VEvent{}, c.now()
		return c.parsed, nil
	}

	feeds, errs := c.fetcher.FetchAll(ctx, c.sources)
	if len(feeds) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	parsed := make([]VEvent, 0)
	for _, feed := range feeds {
		events, err := Parse(feed.Source, feed.Body, c.loc)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", feed.Source.ID)
			continue
		}
		parsed = append(parsed, events...)
	}

	c.parsed, c.parsedAt = parsed, c.now()
	appLog.Info("ics feeds loaded",
		"sources", len(c.sources),
		"fetched", len(feeds),
		"failed", len(errs),
		"events", len(parsed),
	)
	return parsed, nil
}
