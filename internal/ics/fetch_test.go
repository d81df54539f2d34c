package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const sampleFeed = "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:1\r\nSUMMARY:One\r\nDTSTART:20260127T100000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestFetcher_RevalidatesWithETag(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), t.TempDir())

	first, err := f.Fetch(context.Background(), server.URL+"/basic.ics")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := f.Fetch(context.Background(), server.URL+"/basic.ics")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if string(first) != sampleFeed || string(second) != sampleFeed {
		t.Error("expected both fetches to return the feed body")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected 2 requests, got %d", hits)
	}
}

func TestFetcher_ErrorStatusIsHardError(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	f := NewFetcher(server.Client(), t.TempDir())
	if _, err := f.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("warm-up fetch: %v", err)
	}

	fail.Store(true)
	body, err := f.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error even though a cached body exists")
	}
	if !errors.Is(err, ErrFeedStatus) {
		t.Errorf("expected ErrFeedStatus, got %v", err)
	}
	if body != nil {
		t.Error("expected no body on error")
	}
}

func TestFetcher_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	f := NewFetcher(nil, "")
	if _, err := f.Fetch(context.Background(), url); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestFetcher_EmptyURL(t *testing.T) {
	f := NewFetcher(nil, "")
	if _, err := f.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://calendar.google.com/calendar/ical/secret/basic.ics", "https://calendar.google.com/...(redacted)"},
		{"not a url", "ics://...(redacted)"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
