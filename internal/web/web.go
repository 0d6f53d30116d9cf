package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"hangoutcal/internal/availability"
	"hangoutcal/internal/busy"
	"hangoutcal/internal/config"
	appLog "hangoutcal/internal/log"
	"hangoutcal/internal/metrics"
	"hangoutcal/internal/model"
	"hangoutcal/internal/session"
	"hangoutcal/internal/slot"
)

const (
	dateLayout = "2006-01-02"
	sessionTTL = 24 * time.Hour
	maxBody    = 1 << 20
)

// Server exposes busy lookups, range computation and live selection sessions.
type Server struct {
	cfg      *config.Config
	loc      *time.Location
	index    *busy.Index
	metrics  *metrics.Recorder
	creator  session.PollCreator
	mux      *http.ServeMux
	validate *validator.Validate
	now      func() time.Time

	sessionsMu sync.Mutex
	sessions   map[string]*sessionEntry
}

// sessionEntry gives each stored session a single owner at a time.
type sessionEntry struct {
	mu        sync.Mutex
	s         *session.Session
	touchedAt time.Time
}

// NewServer constructs a Server. rec and creator may be nil; without a creator
// submit answers 501.
func NewServer(cfg *config.Config, index *busy.Index, rec *metrics.Recorder, creator session.PollCreator) *Server {
	s := &Server{
		cfg:      cfg,
		loc:      index.Location(),
		index:    index,
		metrics:  rec,
		creator:  creator,
		mux:      http.NewServeMux(),
		validate: validator.New(),
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
	}
	_ = s.validate.RegisterValidation("mode", func(fl validator.FieldLevel) bool {
		_, err := availability.ParseMode(fl.Field().String())
		return err == nil
	})
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(appLog.L()),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /api/busy", s.handleBusy)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/ranges", s.handleRanges)

	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/toggle", s.handleToggle)
	s.mux.HandleFunc("PUT /api/sessions/{id}/mode", s.handleSetMode)
	s.mux.HandleFunc("POST /api/sessions/{id}/submit", s.handleSubmit)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="hangoutcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// slotDTO is one grid cell on the wire.
type slotDTO struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Hour   int    `json:"hour" validate:"min=0,max=23"`
	Minute int    `json:"minute" validate:"min=0,max=59"`
}

func (s *Server) toSlot(d slotDTO) (slot.Slot, error) {
	day, err := time.ParseInLocation(dateLayout, d.Date, s.loc)
	if err != nil {
		return slot.Slot{}, errBadRequest("date must be YYYY-MM-DD")
	}
	sl := slot.New(day, d.Hour, d.Minute)
	if err := slot.Validate(sl, s.cfg.Granularity()); err != nil {
		return slot.Slot{}, err
	}
	return sl, nil
}

type busyResponse struct {
	Date   string   `json:"date"`
	Hour   int      `json:"hour"`
	Minute int      `json:"minute"`
	Busy   bool     `json:"busy"`
	Titles []string `json:"titles"`
}

// handleBusy answers GET /api/busy?date=2024-06-01&hour=10&minute=30, or
// GET /api/busy?at=2024-06-01T10:47:00Z for the slot containing an instant.
func (s *Server) handleBusy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		sl  slot.Slot
		err error
	)
	if raw := q.Get("at"); raw != "" {
		at, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
		sl = slot.At(at, s.loc, s.cfg.Granularity())
		err = slot.Validate(sl, s.cfg.Granularity())
	} else {
		hour, herr := strconv.Atoi(q.Get("hour"))
		minute, merr := strconv.Atoi(q.Get("minute"))
		if herr != nil || merr != nil {
			writeError(w, http.StatusBadRequest, "hour and minute are required integers")
			return
		}
		sl, err = s.toSlot(slotDTO{Date: q.Get("date"), Hour: hour, Minute: minute})
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	titles := s.index.OverlappingTitles(sl)
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, busyResponse{
		Date:   sl.Day.Format(dateLayout),
		Hour:   sl.Hour,
		Minute: sl.Minute,
		Busy:   len(titles) > 0,
		Titles: titles,
	})
}

type eventDTO struct {
	SourceID string    `json:"source_id"`
	UID      string    `json:"uid"`
	Title    string    `json:"title"`
	AllDay   bool      `json:"all_day"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type eventsResponse struct {
	Date     string     `json:"date"`
	Cached   bool       `json:"cached"`
	Events   []eventDTO `json:"events"`
	Timezone string     `json:"timezone"`
}

// handleEvents returns the cached events of one day. An uncached day is
// reported with cached=false and no events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("date"), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	events, ok := s.index.Events(day)
	writeJSON(w, http.StatusOK, eventsResponse{
		Date:     day.Format(dateLayout),
		Cached:   ok,
		Events:   toEventDTOs(events),
		Timezone: s.loc.String(),
	})
}

func toEventDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, eventDTO{
			SourceID: ev.SourceID,
			UID:      ev.UID,
			Title:    ev.Title,
			AllDay:   ev.AllDay,
			Start:    ev.Start,
			End:      ev.End,
		})
	}
	return out
}

type rangesRequest struct {
	Slots           []slotDTO `json:"slots" validate:"dive"`
	Mode            string    `json:"mode" validate:"omitempty,mode"`
	DurationMinutes int       `json:"duration_minutes" validate:"min=0,max=1440"`
}

type sessionResponse struct {
	ID              string       `json:"id"`
	Mode            string       `json:"mode"`
	DurationMinutes int          `json:"duration_minutes"`
	SlotCount       int          `json:"slot_count"`
	Ranges          []slot.Range `json:"ranges"`
}

// handleRanges computes ranges for a one-off selection without storing it.
func (s *Server) handleRanges(w http.ResponseWriter, r *http.Request) {
	var req rangesRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeDomainError(w, err)
		return
	}

	sess, err := s.newSession(req.Mode, req.DurationMinutes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	start := time.Now()
	for _, d := range req.Slots {
		sl, err := s.toSlot(d)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if sess.Selected(sl) {
			continue
		}
		if err := sess.ToggleSlot(sl); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	ranges := sess.CurrentRanges()
	s.metrics.ObserveRanges(string(sess.Mode()), len(ranges), time.Since(start))
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req rangesRequest
	if err := s.decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeDomainError(w, err)
		return
	}
	sess, err := s.newSession(req.Mode, req.DurationMinutes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := s.now()
	s.sessionsMu.Lock()
	for id, e := range s.sessions {
		if now.Sub(e.touchedAt) > sessionTTL {
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.ID()] = &sessionEntry{s: sess, touchedAt: now}
	s.sessionsMu.Unlock()

	appLog.Info("session created", "session", sess.ID(), "mode", sess.Mode())
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session.Session) {
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.sessionsMu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var d slotDTO
	if err := s.decode(w, r, &d); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.withSession(w, r, func(sess *session.Session) {
		sl, err := s.toSlot(d)
		if err == nil {
			start := time.Now()
			err = sess.ToggleSlot(sl)
			s.metrics.ObserveRanges(string(sess.Mode()), len(sess.CurrentRanges()), time.Since(start))
		}
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	})
}

type modeRequest struct {
	Mode            string `json:"mode" validate:"omitempty,mode"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=1440"`
}

// handleSetMode changes mode and/or duration. Omitted fields keep their
// current value.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.withSession(w, r, func(sess *session.Session) {
		mode := sess.Mode()
		if req.Mode != "" {
			var err error
			if mode, err = availability.ParseMode(req.Mode); err != nil {
				s.writeDomainError(w, errBadRequest(err.Error()))
				return
			}
		}
		if req.DurationMinutes != 0 {
			if err := sess.SetDuration(time.Duration(req.DurationMinutes) * time.Minute); err != nil {
				s.writeDomainError(w, err)
				return
			}
		}
		sess.SetMode(mode)
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	})
}

type submitResponse struct {
	SessionID string `json:"session_id"`
	PollID    string `json:"poll_id"`
	URL       string `json:"url,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.creator == nil {
		writeError(w, http.StatusNotImplemented, "poll creation is not configured")
		return
	}
	s.withSession(w, r, func(sess *session.Session) {
		ref, err := sess.Submit(r.Context())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.sessionsMu.Lock()
		delete(s.sessions, sess.ID())
		s.sessionsMu.Unlock()
		writeJSON(w, http.StatusOK, submitResponse{SessionID: sess.ID(), PollID: ref.ID, URL: ref.URL})
	})
}

// withSession runs fn while holding the session's own lock.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(*session.Session)) {
	id := r.PathValue("id")
	s.sessionsMu.Lock()
	e, ok := s.sessions[id]
	if ok {
		e.touchedAt = s.now()
	}
	s.sessionsMu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.s)
}

func (s *Server) newSession(modeName string, durationMinutes int) (*session.Session, error) {
	mode, err := availability.ParseMode(modeName)
	if err != nil {
		return nil, errBadRequest(err.Error())
	}
	return session.New(session.Options{
		Granularity: s.cfg.Granularity(),
		Durations:   s.cfg.Durations(),
		Mode:        mode,
		Duration:    time.Duration(durationMinutes) * time.Minute,
	}, s.creator)
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:              sess.ID(),
		Mode:            string(sess.Mode()),
		DurationMinutes: int(sess.Duration() / time.Minute),
		SlotCount:       sess.Len(),
		Ranges:          sess.CurrentRanges(),
	}
}

// badRequest marks input errors that are not domain sentinels.
type badRequest struct {
	msg string
	err error
}

func (e badRequest) Error() string { return e.msg }

func (e badRequest) Unwrap() error { return e.err }

func errBadRequest(msg string) error { return badRequest{msg: msg} }

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, slot.ErrInvalidDuration),
		errors.Is(err, slot.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrEmptySelection):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusBadGateway, "poll creation failed")
	}
}

// decode reads one JSON document into v and runs its validate tags. All
// failures are badRequest; an empty body still unwraps to io.EOF.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest{msg: "invalid JSON body", err: err}
	}
	if dec.More() {
		return errBadRequest("trailing data after JSON body")
	}
	if err := s.validate.Struct(v); err != nil {
		return badRequest{msg: "invalid payload: " + err.Error(), err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: strings.TrimSpace(msg)})
}
