package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hadash/internal/ics"
	appLog "hadash/internal/log"
	"hadash/internal/model"
)

const maxOccurrencesPerEvent = 500

// calendarCache holds the last successfully parsed feed.
type calendarCache struct {
	events    []model.CalendarEvent
	updatedAt time.Time
}

type calendarResponse struct {
	Events []model.CalendarEvent `json:"events"`
}

type calendarErrorResponse struct {
	Error  string                `json:"error"`
	Events []model.CalendarEvent `json:"events"`
}

// WarmCalendar refetches the feed regardless of cache age. It is run by
// the calendar refresh schedule so requests rarely wait on the feed.
func (s *Server) WarmCalendar(ctx context.Context) error {
	_, err := s.loadCalendar(ctx, true)
	return err
}

// loadCalendar returns parsed events, using the cache while it is
// younger than the configured TTL. Failures are never cached.
func (s *Server) loadCalendar(ctx context.Context, force bool) ([]model.CalendarEvent, error) {
	ttl := s.cfg.Calendar.CacheTTL.Std()
	now := s.now()

	s.calendarMu.Lock()
	cc := s.calendarCache
	s.calendarMu.Unlock()
	if !force && cc != nil && now.Sub(cc.updatedAt) < ttl {
		return cc.events, nil
	}

	body, err := s.deps.Fetcher.Fetch(ctx, s.cfg.Calendar.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}
	events := ics.ParseIn(string(body), s.loc)

	if s.cfg.Calendar.ExpandRecurring {
		// Cover the whole window any request may select from before the
		// next fetch.
		end := now.Add(s.horizon() + ttl)
		events, err = ics.Expand(events, now.Add(-ttl), end, maxOccurrencesPerEvent)
		if err != nil {
			return nil, fmt.Errorf("expand calendar: %w", err)
		}
	}

	s.calendarMu.Lock()
	s.calendarCache = &calendarCache{events: events, updatedAt: now}
	s.calendarMu.Unlock()

	appLog.Debug("calendar refreshed", "events", len(events))
	return events, nil
}

func (s *Server) horizon() time.Duration {
	if s.cfg.Calendar.HorizonDays <= 0 {
		return ics.DefaultHorizon
	}
	return time.Duration(s.cfg.Calendar.HorizonDays) * 24 * time.Hour
}

func (s *Server) maxEvents() int {
	if s.cfg.Calendar.MaxEvents <= 0 {
		return ics.DefaultMaxEvents
	}
	return s.cfg.Calendar.MaxEvents
}

// upcoming applies the window/limit selection to the cached feed.
func (s *Server) upcoming(ctx context.Context) ([]model.CalendarEvent, error) {
	events, err := s.loadCalendar(ctx, false)
	if err != nil {
		return nil, err
	}
	selected := ics.Select(events, s.now(), s.horizon(), s.maxEvents())
	s.deps.Metrics.SetCalendarEvents(len(selected))
	return selected, nil
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	events, err := s.upcoming(r.Context())
	if err != nil {
		appLog.Error("calendar request failed", err)
		writeJSON(w, http.StatusInternalServerError, calendarErrorResponse{
			Error:  "Failed to fetch calendar events",
			Events: []model.CalendarEvent{},
		})
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse{Events: events})
}

// handleCalendarICS re-serializes the selected events as iCalendar.
func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	events, err := s.upcoming(r.Context())
	if err != nil {
		appLog.Error("calendar export failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch calendar events")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ics.Export(events, s.now()))
}
