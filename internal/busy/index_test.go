package busy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangoutcal/internal/metrics"
	"hangoutcal/internal/model"
	"hangoutcal/internal/slot"
)

var june1 = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

func ev(title string, h1, m1, h2, m2 int) model.Event {
	return model.Event{
		Title: title,
		Start: june1.Add(time.Duration(h1)*time.Hour + time.Duration(m1)*time.Minute),
		End:   june1.Add(time.Duration(h2)*time.Hour + time.Duration(m2)*time.Minute),
	}
}

func TestIsBusyUsesHalfOpenIntervals(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	x.Set(june1, []model.Event{ev("Standup", 10, 0, 10, 30)})

	assert.True(t, x.IsBusy(slot.New(june1, 10, 0)))
	assert.False(t, x.IsBusy(slot.New(june1, 10, 30)))
	assert.False(t, x.IsBusy(slot.New(june1, 9, 30)))
}

func TestOverlappingTitlesReturnsAll(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	x.Set(june1, []model.Event{
		ev("Gym", 18, 0, 19, 0),
		ev("Dinner", 18, 30, 20, 0),
		ev("Call", 18, 30, 19, 0),
	})

	assert.Equal(t, []string{"Gym", "Dinner", "Call"}, x.OverlappingTitles(slot.New(june1, 18, 30)))
	assert.Equal(t, []string{"Dinner"}, x.OverlappingTitles(slot.New(june1, 19, 0)))
	assert.Empty(t, x.OverlappingTitles(slot.New(june1, 7, 0)))
}

func TestMissingDayIsFree(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	assert.False(t, x.IsBusy(slot.New(june1, 12, 0)))
	assert.Nil(t, x.OverlappingTitles(slot.New(june1, 12, 0)))

	_, ok := x.Events(june1)
	assert.False(t, ok)
}

func TestPopulateSkipsFailingDays(t *testing.T) {
	rec := metrics.New()
	x := NewIndex(time.UTC, rec)
	june2 := june1.AddDate(0, 0, 1)

	p := ProviderFunc(func(_ context.Context, day time.Time) ([]model.Event, error) {
		if day.Equal(june2) {
			return nil, errors.New("calendar offline")
		}
		return []model.Event{{Title: "Brunch", Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)}}, nil
	})

	stored := x.Populate(context.Background(), p, Window(june1.Add(15*time.Hour), 3, time.UTC))
	assert.Equal(t, 2, stored)
	assert.Equal(t, []string{"2024-06-01", "2024-06-03"}, x.Days())
	assert.False(t, x.IsBusy(slot.New(june2, 11, 0)))
	assert.True(t, x.IsBusy(slot.New(june1.AddDate(0, 0, 2), 11, 30)))
}

func TestPopulateStopsOnCancelledContext(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	p := ProviderFunc(func(context.Context, time.Time) ([]model.Event, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	assert.Zero(t, x.Populate(ctx, p, Window(june1, 5, time.UTC)))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestInvalidateRetainReset(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	for _, d := range Window(june1, 4, time.UTC) {
		x.Set(d, nil)
	}
	x.Invalidate(june1)
	assert.Equal(t, []string{"2024-06-02", "2024-06-03", "2024-06-04"}, x.Days())

	x.Retain(june1.AddDate(0, 0, 2), june1.AddDate(0, 0, 10))
	assert.Equal(t, []string{"2024-06-03", "2024-06-04"}, x.Days())

	x.Reset()
	assert.Empty(t, x.Days())
}

func TestSetCopiesInput(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	events := []model.Event{ev("Lunch", 12, 0, 13, 0)}
	x.Set(june1, events)
	events[0].Title = "Changed"

	got, ok := x.Events(june1)
	require.True(t, ok)
	assert.Equal(t, "Lunch", got[0].Title)
}

func TestRefreshNowKeepsWindow(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	x.Set(june1.AddDate(0, 0, -3), []model.Event{ev("Old", 9, 0, 10, 0)})

	r := NewRefresher(x, ProviderFunc(func(context.Context, time.Time) ([]model.Event, error) {
		return nil, nil
	}), 3)
	r.now = func() time.Time { return june1.Add(20 * time.Hour) }

	assert.Equal(t, 3, r.RefreshNow(context.Background()))
	assert.Equal(t, []string{"2024-06-01", "2024-06-02", "2024-06-03"}, x.Days())
}

func TestStartRejectsBadSpec(t *testing.T) {
	r := NewRefresher(NewIndex(time.UTC, nil), ProviderFunc(func(context.Context, time.Time) ([]model.Event, error) {
		return nil, nil
	}), 1)
	assert.Error(t, r.Start(context.Background(), ""))
	assert.Error(t, r.Start(context.Background(), "not a cron"))
}

func TestPopulateDropsStaleDayOnFailure(t *testing.T) {
	x := NewIndex(time.UTC, nil)
	x.Set(june1, []model.Event{ev("Cancelled", 9, 0, 10, 0)})

	failing := ProviderFunc(func(context.Context, time.Time) ([]model.Event, error) {
		return nil, errors.New("calendar offline")
	})
	assert.Zero(t, x.Populate(context.Background(), failing, []time.Time{june1}))

	_, ok := x.Events(june1)
	assert.False(t, ok)
	assert.False(t, x.IsBusy(slot.New(june1, 9, 0)))
}

type memoProvider struct {
	invalidated int
	fail        bool
}

func (p *memoProvider) FetchEvents(_ context.Context, day time.Time) ([]model.Event, error) {
	if p.fail {
		return nil, errors.New("offline")
	}
	return []model.Event{{Title: "Sync", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}}, nil
}

func (p *memoProvider) Invalidate() { p.invalidated++ }

func TestRefreshInvalidatesProviderCache(t *testing.T) {
	p := &memoProvider{}
	x := NewIndex(time.UTC, nil)
	r := NewRefresher(x, p, 2)
	r.now = func() time.Time { return june1 }

	assert.Equal(t, 2, r.RefreshNow(context.Background()))
	assert.Equal(t, 2, r.RefreshNow(context.Background()))
	assert.Equal(t, 2, p.invalidated)
	assert.True(t, x.IsBusy(slot.New(june1, 9, 0)))
}

func TestReloadResetsIndex(t *testing.T) {
	p := &memoProvider{}
	x := NewIndex(time.UTC, nil)
	r := NewRefresher(x, p, 2)
	r.now = func() time.Time { return june1 }
	require.Equal(t, 2, r.Reload(context.Background()))

	p.fail = true
	assert.Zero(t, r.Reload(context.Background()))
	assert.Empty(t, x.Days())
	assert.Equal(t, 2, p.invalidated)
}
