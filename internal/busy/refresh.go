package busy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "hangoutcal/internal/log"
)

// Refresher keeps the index populated for the visible window
// (today .. today+HorizonDays-1) on a cron schedule.
type Refresher struct {
	index    *Index
	provider Provider
	horizon  int
	now      func() time.Time

	cron *cron.Cron

	// running guards against overlapping refreshes when a fetch outlives the
	// schedule interval.
	running sync.Mutex
}

// NewRefresher wires an index to a provider. horizon <= 0 means 7 days.
func NewRefresher(index *Index, provider Provider, horizon int) *Refresher {
	if horizon <= 0 {
		horizon = 7
	}
	return &Refresher{
		index:    index,
		provider: provider,
		horizon:  horizon,
		now:      time.Now,
	}
}

// RefreshNow re-populates the visible window and drops days that fell out of
// it. It returns the number of days stored, or 0 if a refresh is already in
// progress.
func (r *Refresher) RefreshNow(ctx context.Context) int {
	if !r.running.TryLock() {
		appLog.Info("busy refresh skipped; previous run still in progress")
		return 0
	}
	defer r.running.Unlock()
	return r.refresh(ctx)
}

// Reload drops every cached day and refills the window. Unlike RefreshNow it
// waits for a running refresh to finish.
func (r *Refresher) Reload(ctx context.Context) int {
	r.running.Lock()
	defer r.running.Unlock()
	r.index.Reset()
	appLog.Info("busy index reset")
	return r.refresh(ctx)
}

// invalidator is implemented by providers that memoize upstream data.
type invalidator interface {
	Invalidate()
}

func (r *Refresher) refresh(ctx context.Context) int {
	if inv, ok := r.provider.(invalidator); ok {
		inv.Invalidate()
	}

	loc := r.index.Location()
	days := Window(r.now(), r.horizon, loc)
	start := time.Now()

	stored := r.index.Populate(ctx, r.provider, days)
	r.index.Retain(days[0], days[len(days)-1])

	appLog.Info("busy refresh completed",
		"days", len(days),
		"stored", stored,
		"took", time.Since(start).String(),
	)
	return stored
}

// Start schedules RefreshNow with a standard 5-field cron spec and runs one
// refresh immediately. The schedule stops when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	if spec == "" {
		return errors.New("busy refresh: empty cron spec")
	}
	c := cron.New(cron.WithLocation(r.index.Location()))
	if _, err := c.AddFunc(spec, func() { r.RefreshNow(ctx) }); err != nil {
		return err
	}
	r.cron = c

	go r.RefreshNow(ctx)
	c.Start()
	appLog.Info("busy refresh scheduled", "cron", spec, "horizon_days", r.horizon)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
