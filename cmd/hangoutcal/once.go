package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hangoutcal/internal/availability"
	"hangoutcal/internal/busy"
	"hangoutcal/internal/config"
	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/session"
	"hangoutcal/internal/slot"
)

// selectionFile is the -selection input:
//
//	mode: timeslots
//	duration_minutes: 60
//	slots:
//	  - {date: 2024-06-01, hour: 10, minute: 0}
//	ranges:
//	  - {date: 2024-06-02, from: "14:00", to: "16:00"}
type selectionFile struct {
	Mode            string          `yaml:"mode"`
	DurationMinutes int             `yaml:"duration_minutes"`
	Slots           []selectedSlot  `yaml:"slots"`
	Ranges          []selectedRange `yaml:"ranges"`
}

type selectedSlot struct {
	Date   string `yaml:"date"`
	Hour   int    `yaml:"hour"`
	Minute int    `yaml:"minute"`
}

type selectedRange struct {
	Date string `yaml:"date"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type onceRange struct {
	slot.Range
	Conflicts []string `json:"conflicts"`
}

// MarshalJSON flattens the embedded range next to its conflicts.
func (r onceRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start     time.Time `json:"start"`
		End       time.Time `json:"end"`
		Label     string    `json:"label"`
		Conflicts []string  `json:"conflicts"`
	}{r.Start, r.End, r.Label(), r.Conflicts})
}

type onceResult struct {
	SessionID       string      `json:"session_id"`
	Mode            string      `json:"mode"`
	DurationMinutes int         `json:"duration_minutes"`
	Ranges          []onceRange `json:"ranges"`
	PollID          string      `json:"poll_id,omitempty"`
}

func loadSelection(path string) (*selectionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selection: %w", err)
	}
	var sel selectionFile
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return nil, fmt.Errorf("parse selection: %w", err)
	}
	return &sel, nil
}

// runOnce computes the ranges of one selection file, annotates each with the
// busy events it overlaps and writes the result as JSON. With a creator the
// ranges are also submitted.
func runOnce(ctx context.Context, conf *config.Config, index *busy.Index, provider busy.Provider, path string, creator session.PollCreator, out io.Writer) error {
	sel, err := loadSelection(path)
	if err != nil {
		return err
	}
	mode, err := availability.ParseMode(sel.Mode)
	if err != nil {
		return err
	}
	sess, err := session.New(session.Options{
		Granularity: conf.Granularity(),
		Durations:   conf.Durations(),
		Mode:        mode,
		Duration:    time.Duration(sel.DurationMinutes) * time.Minute,
	}, creator)
	if err != nil {
		return err
	}

	loc := index.Location()
	for _, s := range sel.Slots {
		day, err := time.ParseInLocation("2006-01-02", s.Date, loc)
		if err != nil {
			return fmt.Errorf("slot %q: %w", s.Date, err)
		}
		sl := slot.New(day, s.Hour, s.Minute)
		if sess.Selected(sl) {
			continue
		}
		if err := sess.ToggleSlot(sl); err != nil {
			return err
		}
	}
	for _, r := range sel.Ranges {
		rng, err := parseSelectedRange(r, loc)
		if err != nil {
			return err
		}
		if err := sess.SelectRange(rng); err != nil {
			return err
		}
	}

	days := selectionDays(sess.Slots())
	if provider != nil && len(days) > 0 {
		stored := index.Populate(ctx, provider, days)
		appLog.Debug("selection days populated", "days", len(days), "stored", stored)
	}

	res := onceResult{
		SessionID:       sess.ID(),
		Mode:            string(sess.Mode()),
		DurationMinutes: int(sess.Duration() / time.Minute),
		Ranges:          make([]onceRange, 0),
	}
	for _, r := range sess.CurrentRanges() {
		res.Ranges = append(res.Ranges, onceRange{Range: r, Conflicts: conflicts(index, r, sess.Granularity())})
	}

	if creator != nil {
		ref, err := sess.Submit(ctx)
		if err != nil {
			return err
		}
		res.PollID = ref.ID
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseSelectedRange(r selectedRange, loc *time.Location) (slot.Range, error) {
	from, err := time.ParseInLocation("2006-01-02 15:04", r.Date+" "+r.From, loc)
	if err != nil {
		return slot.Range{}, fmt.Errorf("range %s %s: %w", r.Date, r.From, err)
	}
	to, err := time.ParseInLocation("2006-01-02 15:04", r.Date+" "+r.To, loc)
	if err != nil {
		return slot.Range{}, fmt.Errorf("range %s %s: %w", r.Date, r.To, err)
	}
	rng := slot.Range{Start: from, End: to}
	if !rng.Valid() {
		return slot.Range{}, fmt.Errorf("%w: range %s %s-%s", slot.ErrInvalidSlot, r.Date, r.From, r.To)
	}
	return rng, nil
}

// selectionDays lists the distinct days of slots, which are already sorted.
func selectionDays(slots []slot.Slot) []time.Time {
	var days []time.Time
	for _, s := range slots {
		if n := len(days); n == 0 || !days[n-1].Equal(s.Day) {
			days = append(days, s.Day)
		}
	}
	return days
}

func conflicts(index *busy.Index, r slot.Range, granularity time.Duration) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, s := range availability.Expand([]slot.Range{r}, granularity) {
		for _, title := range index.OverlappingTitles(s) {
			if !seen[title] {
				seen[title] = true
				out = append(out, title)
			}
		}
	}
	return out
}
