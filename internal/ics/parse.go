package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"hadash/internal/model"
)

// eventNamespace seeds synthetic ids for events without a UID.
var eventNamespace = uuid.MustParse("5b0f4c52-8f0e-4a43-9a57-4c1b1f3f6f2e")

// Parse turns a raw iCalendar feed into events.
//
// It never fails: property lines without a ':' separator are skipped and
// VEVENT blocks missing a SUMMARY or DTSTART are dropped whole. Only the
// properties the dashboard shows are read; everything else is ignored.
func Parse(raw string) []model.CalendarEvent {
	return ParseIn(raw, time.Local)
}

// ParseIn is Parse with an explicit location for floating and date-only
// values.
func ParseIn(raw string, loc *time.Location) []model.CalendarEvent {
	if loc == nil {
		loc = time.Local
	}

	events := make([]model.CalendarEvent, 0)
	var cur *eventBuilder

	for _, line := range unfold(raw) {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &eventBuilder{}
		case line == "END:VEVENT":
			if cur != nil {
				if ev, ok := cur.build(); ok {
					events = append(events, ev)
				}
			}
			cur = nil
		case cur != nil:
			cur.apply(line, loc)
		}
	}

	return events
}

// unfold joins continuation lines (a line break followed by a single space)
// and splits the result on CRLF or LF.
func unfold(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n ", "")
	raw = strings.ReplaceAll(raw, "\n ", "")
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

type eventBuilder struct {
	ev       model.CalendarEvent
	hasTitle bool
	hasStart bool
}

func (b *eventBuilder) apply(line string, loc *time.Location) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return
	}
	key, value := line[:idx], line[idx+1:]
	if semi := strings.IndexByte(key, ';'); semi >= 0 {
		key = key[:semi]
	}

	switch key {
	case "UID":
		b.ev.ID = value
	case "SUMMARY":
		b.ev.Title = value
		b.hasTitle = value != ""
	case "DTSTART":
		t, allDay, ok := parseDate(value, loc)
		if !ok {
			return
		}
		b.ev.Start = t
		b.ev.AllDay = allDay
		b.hasStart = true
	case "DTEND":
		if t, _, ok := parseDate(value, loc); ok {
			b.ev.End = t
		}
	case "DESCRIPTION":
		v := strings.ReplaceAll(value, `\n`, "\n")
		b.ev.Description = strings.ReplaceAll(v, `\,`, ",")
	case "LOCATION":
		b.ev.Location = strings.ReplaceAll(value, `\,`, ",")
	case "RRULE":
		b.ev.RRule = value
	}
}

func (b *eventBuilder) build() (model.CalendarEvent, bool) {
	if !b.hasTitle || !b.hasStart {
		return model.CalendarEvent{}, false
	}
	ev := b.ev
	if ev.ID == "" {
		seed := ev.Title + "\x00" + model.FormatTimestamp(ev.Start)
		ev.ID = uuid.NewSHA1(eventNamespace, []byte(seed)).String()
	}
	return ev, true
}

// parseDate reads YYYYMMDD (local midnight) or YYYYMMDDTHHMM[SS][Z].
// A trailing Z means the fields are UTC; otherwise they are wall-clock
// time in loc. Missing seconds default to zero.
func parseDate(v string, loc *time.Location) (time.Time, bool, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return time.Time{}, false, false
	}

	year, err1 := strconv.Atoi(v[0:4])
	month, err2 := strconv.Atoi(v[4:6])
	day, err3 := strconv.Atoi(v[6:8])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false, false
	}

	if len(v) == 8 {
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), true, true
	}

	utc := strings.HasSuffix(v, "Z")
	clock := strings.TrimSuffix(v, "Z")
	if len(clock) < 13 || clock[8] != 'T' {
		return time.Time{}, false, false
	}

	hour, err1 := strconv.Atoi(clock[9:11])
	minute, err2 := strconv.Atoi(clock[11:13])
	if err1 != nil || err2 != nil {
		return time.Time{}, false, false
	}
	second := 0
	if len(clock) >= 15 {
		if s, err := strconv.Atoi(clock[13:15]); err == nil {
			second = s
		}
	}

	if utc {
		return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), false, true
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), false, true
}
