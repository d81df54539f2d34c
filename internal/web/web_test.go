package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hadash/internal/config"
	"hadash/internal/hass"
	"hadash/internal/ics"
	"hadash/internal/lightsync"
	"hadash/internal/metrics"
	"hadash/internal/model"
)

type recordedCall struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeHA is a minimal Home Assistant REST server.
type fakeHA struct {
	mu     sync.Mutex
	calls  []recordedCall
	states []model.RemoteState

	// status forces a response code per path; statusAll applies to every
	// path when non-zero.
	status    map[string]int
	statusAll int
}

func newFakeHA(t *testing.T) (*fakeHA, *httptest.Server) {
	f := &fakeHA{status: map[string]int{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := recordedCall{Method: r.Method, Path: r.URL.Path}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &call.Body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	states := f.states
	code, forced := f.status[r.URL.Path]
	if f.statusAll != 0 {
		code, forced = f.statusAll, true
	}
	f.mu.Unlock()

	if forced {
		http.Error(w, "rejected", code)
		return
	}

	switch {
	case r.URL.Path == "/api/":
		_, _ = w.Write([]byte(`{"message":"API running."}`))
	case r.URL.Path == "/api/states":
		_ = json.NewEncoder(w).Encode(states)
	case r.URL.Path == "/api/states/sensor.apple_tv_power":
		_, _ = w.Write([]byte(`{"entity_id":"sensor.apple_tv_power","state":"standby","attributes":{},"last_updated":"2026-01-27T10:00:00+00:00"}`))
	case strings.HasPrefix(r.URL.Path, "/api/camera_proxy/"):
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	default:
		_, _ = w.Write([]byte(`[]`))
	}
}

func (f *fakeHA) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeHA) setStatus(path string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[path] = code
}

func (f *fakeHA) setStatusAll(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusAll = code
}

func (f *fakeHA) setStates(states ...model.RemoteState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = states
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	settings *config.SettingsStore
	waited   []time.Duration
}

// newTestEnv wires a Server against haURL. An empty haURL leaves Home
// Assistant unconfigured.
func newTestEnv(t *testing.T, haURL string, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HomeAssistant.SettingsPath = filepath.Join(t.TempDir(), "settings.yaml")
	cfg.Calendar.CacheDir = ""
	if mutate != nil {
		mutate(cfg)
	}

	defaults := model.Connection{}
	if haURL != "" {
		defaults = model.Connection{URL: haURL, Token: "secret"}
	}
	store := config.NewSettingsStore(cfg.HomeAssistant.SettingsPath)
	resolver := config.NewResolver(store, defaults)
	client := hass.NewClient(resolver, hass.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}))

	env := &testEnv{settings: store}
	env.server = NewServer(cfg, Deps{
		Client:   client,
		Sync:     lightsync.New(client),
		Settings: store,
		Resolver: resolver,
		Fetcher:  ics.NewFetcher(nil, ""),
		Metrics:  metrics.New(),
	})
	env.server.wait = func(_ context.Context, d time.Duration) error {
		env.waited = append(env.waited, d)
		return nil
	}
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRequestIDIsReused(t *testing.T) {
	env := newTestEnv(t, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestStaticAndUnknownAPI(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := env.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `data-ready`) {
		t.Errorf("index = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown api = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Not found" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.do(http.MethodGet, "/health", "")

	rec := env.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `hadash_http_requests_total{route="/health",status="200"} 1`) {
		t.Errorf("missing http counter in:\n%s", rec.Body.String())
	}
}
