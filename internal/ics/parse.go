package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "hangoutcal/internal/log"
)

// VEvent is a VEVENT reduced to what busy-time expansion needs.
type VEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on VEVENTs that override one instance of a series.
	RecurrenceID *time.Time
	// Transparent events (TRANSP:TRANSPARENT) do not block time.
	Transparent bool
}

// Parse decodes an ICS payload. Events that cannot be decoded are logged and
// skipped; an unparseable calendar is an error.
func Parse(src Source, body []byte, loc *time.Location) ([]VEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]VEvent, 0)
	for _, comp := range cal.Events() {
		ev, err := decodeVEvent(src, comp, loc)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "id", src.ID)
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parsed", "id", src.ID, "events", len(out))
	return out, nil
}

func decodeVEvent(src Source, ve *ical.VEvent, loc *time.Location) (VEvent, error) {
	ev := VEvent{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil {
		ev.Transparent = strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, errors.New("missing DTSTART")
	}
	ev.AllDay = isDateValue(dtStart)

	if ev.AllDay {
		start, err := ve.GetAllDayStartAt()
		if err != nil {
			return ev, err
		}
		ev.Start = wallDate(start, loc)
		if end, err := ve.GetAllDayEndAt(); err == nil && end.After(start) {
			ev.End = wallDate(end, loc)
		} else {
			ev.End = ev.Start.AddDate(0, 0, 1)
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return ev, err
		}
		start = floating(dtStart, start, loc)
		ev.Start = start
		if end, err := ve.GetEndAt(); err == nil {
			end = floating(ve.GetProperty(ical.ComponentPropertyDtEnd), end, loc)
			if end.After(start) {
				ev.End = end
			} else {
				ev.End = start
			}
		} else {
			ev.End = start
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tz := tzParam(p, ev.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, tz); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseTime(p.Value, tzParam(p, ev.Start.Location())); err == nil {
			ev.RecurrenceID = &t
		}
	}

	return ev, nil
}

// isDateValue reports VALUE=DATE or a value without a time part.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzParam(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return fallback
}

// floating re-anchors a date-time without TZID or trailing Z into loc; the
// library parses those in time.Local.
func floating(p *ical.IANAProperty, t time.Time, loc *time.Location) time.Time {
	if p == nil || strings.HasSuffix(p.Value, "Z") {
		return t
	}
	if _, ok := p.ICalParameters["TZID"]; ok {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// parseTime handles the UTC, floating and date-only forms.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// wallDate re-anchors an all-day date at midnight in loc; all-day events
// follow the viewer's calendar rather than a fixed instant.
func wallDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
