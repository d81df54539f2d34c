package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "hadash/internal/log"
	"hadash/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
)

// Expand replaces every event carrying an RRULE with its concrete
// occurrences inside [rangeStart, rangeEnd]. Events without a rule pass
// through unchanged. Occurrence ids are the source UID suffixed with the
// occurrence start, so they stay unique per instance.
//
// maxPerEvent caps runaway rules; zero means the package default.
func Expand(events []model.CalendarEvent, rangeStart, rangeEnd time.Time, maxPerEvent int) ([]model.CalendarEvent, error) {
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("expand: range end is before range start")
	}
	if maxPerEvent <= 0 {
		maxPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.RRule == "" {
			out = append(out, ev)
			continue
		}
		out = append(out, expandEvent(ev, rangeStart, rangeEnd, maxPerEvent)...)
	}
	return out, nil
}

func expandEvent(ev model.CalendarEvent, rangeStart, rangeEnd time.Time, maxPerEvent int) []model.CalendarEvent {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		// Keep the base instance so a bad rule does not hide the event.
		appLog.Warn("ics: failed to parse RRULE", "uid", ev.ID, "rrule", ev.RRule, "err", err)
		return []model.CalendarEvent{ev}
	}
	r.DTStart(ev.Start)

	loc := ev.Start.Location()
	starts := r.Between(rangeStart.In(loc), rangeEnd.In(loc), true)
	if len(starts) > maxPerEvent {
		appLog.Warn("ics: truncated recurring event", "uid", ev.ID, "cap", maxPerEvent)
		starts = starts[:maxPerEvent]
	}

	var dur time.Duration
	if !ev.End.IsZero() {
		dur = ev.End.Sub(ev.Start)
	}

	out := make([]model.CalendarEvent, 0, len(starts))
	for _, s := range starts {
		occ := ev
		occ.RRule = ""
		occ.Start = s
		if !ev.End.IsZero() {
			occ.End = s.Add(dur)
		}
		if !s.Equal(ev.Start) {
			occ.ID = ev.ID + "/" + s.UTC().Format("20060102T150405Z")
		}
		out = append(out, occ)
	}
	return out
}
