package ics

import (
	"sort"
	"time"

	"hadash/internal/model"
)

const (
	DefaultHorizon   = 14 * 24 * time.Hour
	DefaultMaxEvents = 10
)

// Select keeps events starting within [now, now+horizon], ordered by
// start time and capped at limit. The input slice is not modified.
func Select(events []model.CalendarEvent, now time.Time, horizon time.Duration, limit int) []model.CalendarEvent {
	end := now.Add(horizon)

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Start.Before(now) || ev.Start.After(end) {
			continue
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
