package ics

import (
	"strings"
	"testing"
	"time"

	"hadash/internal/model"
)

func TestExport_RoundTripsThroughParse(t *testing.T) {
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 1, 22, 18, 30, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		{
			ID:       "dinner-1",
			Title:    "Dinner",
			Start:    start,
			End:      start.Add(2 * time.Hour),
			Location: "Home",
		},
	}

	out := string(Export(events, now))
	if !strings.Contains(out, "BEGIN:VCALENDAR") || !strings.Contains(out, "PRODID:"+productID) {
		t.Fatalf("unexpected calendar header:\n%s", out)
	}

	parsed := Parse(out)
	if len(parsed) != 1 {
		t.Fatalf("expected 1 event after round trip, got %d", len(parsed))
	}
	got := parsed[0]
	if got.ID != "dinner-1" || got.Title != "Dinner" || got.Location != "Home" {
		t.Errorf("unexpected event: %+v", got)
	}
	if !got.Start.Equal(start) {
		t.Errorf("start = %v, want %v", got.Start, start)
	}
	if !got.End.Equal(start.Add(2 * time.Hour)) {
		t.Errorf("end = %v", got.End)
	}
}

func TestExport_Empty(t *testing.T) {
	out := string(Export(nil, time.Now()))
	if strings.Contains(out, "BEGIN:VEVENT") {
		t.Error("expected no events")
	}
	if !strings.Contains(out, "END:VCALENDAR") {
		t.Error("expected a complete calendar")
	}
}
