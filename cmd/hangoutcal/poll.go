package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/session"
)

// logPollCreator stands in for the real poll backend: it assigns an ID and
// writes the proposal as one JSON line.
type logPollCreator struct {
	mu  sync.Mutex
	out io.Writer
}

func newLogPollCreator(out io.Writer) *logPollCreator {
	return &logPollCreator{out: out}
}

type pollRecord struct {
	PollID          string `json:"poll_id"`
	SessionID       string `json:"session_id"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
	Ranges          any    `json:"ranges"`
}

func (p *logPollCreator) CreatePoll(_ context.Context, req session.PollRequest) (session.PollRef, error) {
	id := uuid.NewString()
	rec := pollRecord{
		PollID:          id,
		SessionID:       req.SessionID,
		Mode:            string(req.Mode),
		DurationMinutes: int(req.Duration.Minutes()),
		Ranges:          req.Ranges,
	}

	p.mu.Lock()
	err := json.NewEncoder(p.out).Encode(rec)
	p.mu.Unlock()
	if err != nil {
		return session.PollRef{}, err
	}

	appLog.Info("poll created", "poll", id, "session", req.SessionID, "ranges", len(req.Ranges))
	return session.PollRef{ID: id}, nil
}
