// Package session holds one user's "find a time" selection and keeps its
// derived ranges current after every change.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"hangoutcal/internal/availability"
	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/slot"
)

// ErrEmptySelection is returned by Submit when there is nothing to propose.
var ErrEmptySelection = errors.New("session: no ranges to submit")

// PollRequest is what a session hands to poll creation on submit.
type PollRequest struct {
	SessionID string
	Mode      availability.Mode
	Duration  time.Duration
	Ranges    []slot.Range
}

// PollRef identifies the poll created from a session.
type PollRef struct {
	ID  string
	URL string
}

// PollCreator persists and shares a poll. It lives outside this package.
type PollCreator interface {
	CreatePoll(ctx context.Context, req PollRequest) (PollRef, error)
}

// Options configures a session. Zero values fall back to 30-minute slots and
// 30/60-minute durations.
type Options struct {
	Granularity time.Duration
	Durations   []time.Duration
	Mode        availability.Mode
	Duration    time.Duration
}

// Session is not safe for concurrent use; give it a single owner.
type Session struct {
	id          string
	granularity time.Duration
	durations   []time.Duration
	creator     PollCreator

	mode     availability.Mode
	duration time.Duration
	selected map[slot.Slot]struct{}
	ranges   []slot.Range
}

// New starts an empty session. creator may be nil if Submit is never called.
func New(opts Options, creator PollCreator) (*Session, error) {
	if opts.Granularity == 0 {
		opts.Granularity = slot.DefaultGranularity
	}
	if len(opts.Durations) == 0 {
		opts.Durations = []time.Duration{opts.Granularity, 2 * opts.Granularity}
	}
	for _, d := range opts.Durations {
		if err := slot.ValidateDuration(d, opts.Granularity); err != nil {
			return nil, err
		}
	}
	if opts.Mode == "" {
		opts.Mode = availability.ModeAvailability
	}
	if opts.Duration == 0 {
		opts.Duration = opts.Durations[0]
	}

	s := &Session{
		id:          uuid.NewString(),
		granularity: opts.Granularity,
		durations:   append([]time.Duration(nil), opts.Durations...),
		creator:     creator,
		mode:        opts.Mode,
		selected:    make(map[slot.Slot]struct{}),
		ranges:      []slot.Range{},
	}
	if err := s.checkDuration(opts.Duration); err != nil {
		return nil, err
	}
	s.duration = opts.Duration
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Mode() availability.Mode { return s.mode }

func (s *Session) Duration() time.Duration { return s.duration }

func (s *Session) Granularity() time.Duration { return s.granularity }

// Durations lists the offered window lengths.
func (s *Session) Durations() []time.Duration {
	return append([]time.Duration(nil), s.durations...)
}

// Len is the number of selected slots.
func (s *Session) Len() int { return len(s.selected) }

func (s *Session) Selected(sl slot.Slot) bool {
	_, ok := s.selected[normalize(sl)]
	return ok
}

// CurrentRanges returns a copy of the derived ranges.
func (s *Session) CurrentRanges() []slot.Range {
	return append([]slot.Range{}, s.ranges...)
}

// Slots returns the raw selection in chronological order.
func (s *Session) Slots() []slot.Slot {
	out := make([]slot.Slot, 0, len(s.selected))
	for sl := range s.selected {
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ToggleSlot adds sl if absent and removes it if present.
func (s *Session) ToggleSlot(sl slot.Slot) error {
	if err := slot.Validate(sl, s.granularity); err != nil {
		return err
	}
	sl = normalize(sl)
	if _, ok := s.selected[sl]; ok {
		delete(s.selected, sl)
	} else {
		s.selected[sl] = struct{}{}
	}
	s.recompute()
	return nil
}

// SelectRange adds every slot of r. Used for drag gestures. r must start and
// end on the grid; on error the selection is unchanged.
func (s *Session) SelectRange(r slot.Range) error {
	if !r.Valid() || !slot.OnGrid(r.Start, s.granularity) || !slot.OnGrid(r.End, s.granularity) {
		return fmt.Errorf("%w: range %s is not on the %s grid", slot.ErrInvalidSlot, r, s.granularity)
	}
	slots := availability.Expand([]slot.Range{r}, s.granularity)
	for _, sl := range slots {
		if err := slot.Validate(sl, s.granularity); err != nil {
			return err
		}
	}
	for _, sl := range slots {
		s.selected[normalize(sl)] = struct{}{}
	}
	s.recompute()
	return nil
}

// Clear drops the whole selection.
func (s *Session) Clear() {
	s.selected = make(map[slot.Slot]struct{})
	s.recompute()
}

func (s *Session) SetMode(m availability.Mode) {
	s.mode = m
	s.recompute()
}

// SetDuration changes the time-slots window length. On error the session is
// unchanged.
func (s *Session) SetDuration(d time.Duration) error {
	if err := s.checkDuration(d); err != nil {
		return err
	}
	s.duration = d
	s.recompute()
	return nil
}

// Submit hands the current ranges to the poll creator.
func (s *Session) Submit(ctx context.Context) (PollRef, error) {
	if len(s.ranges) == 0 {
		return PollRef{}, ErrEmptySelection
	}
	if s.creator == nil {
		return PollRef{}, errors.New("session: no poll creator configured")
	}
	ref, err := s.creator.CreatePoll(ctx, PollRequest{
		SessionID: s.id,
		Mode:      s.mode,
		Duration:  s.duration,
		Ranges:    s.CurrentRanges(),
	})
	if err != nil {
		return PollRef{}, fmt.Errorf("session %s: create poll: %w", s.id, err)
	}
	appLog.Info("session submitted", "session", s.id, "poll", ref.ID, "ranges", len(s.ranges))
	return ref, nil
}

func (s *Session) checkDuration(d time.Duration) error {
	if err := slot.ValidateDuration(d, s.granularity); err != nil {
		return err
	}
	for _, allowed := range s.durations {
		if d == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not offered", slot.ErrInvalidDuration, d)
}

// recompute derives ranges from the selection. The duration is valid by
// construction, so Segment cannot fail here.
func (s *Session) recompute() {
	merged := availability.MergeSet(s.selected, s.granularity)
	ranges, err := availability.Segment(merged, s.mode, s.duration, s.granularity)
	if err != nil {
		appLog.Error("session recompute failed", err, "session", s.id)
		ranges = []slot.Range{}
	}
	s.ranges = ranges
}

func normalize(sl slot.Slot) slot.Slot {
	sl.Day = slot.Day(sl.Day, nil)
	return sl
}
