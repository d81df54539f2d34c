package web

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"hadash/internal/config"
	"hadash/internal/hass"
	"hadash/internal/ics"
	"hadash/internal/lightsync"
	appLog "hadash/internal/log"
	"hadash/internal/metrics"
	"hadash/internal/rooms"
)

// Deps are the collaborators the server forwards to.
type Deps struct {
	Client   *hass.Client
	Sync     *lightsync.Synchronizer
	Settings *config.SettingsStore
	Resolver *config.Resolver
	Fetcher  *ics.Fetcher
	Metrics  *metrics.Metrics
}

// Server provides the dashboard API and the embedded UI.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *mux.Router
	loc    *time.Location
	policy rooms.Policy

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error

	// Parsed calendar feed. Selection against the clock happens per
	// request so the window stays current between fetches.
	calendarMu    sync.Mutex
	calendarCache *calendarCache
}

// embeddedStatic contains the dashboard shell served at /.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	policy, err := rooms.ParsePolicy(cfg.Sync.RoomPolicy)
	if err != nil {
		appLog.Warn("unknown room policy; using all", "policy", cfg.Sync.RoomPolicy)
		policy = rooms.PolicyAll
	}
	if deps.Fetcher == nil {
		deps.Fetcher = ics.NewFetcher(nil, cfg.Calendar.CacheDir)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		loc:    resolveLocationOrLocal(cfg.Timezone),
		policy: policy,
		now:    time.Now,
		wait:   sleepContext,
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	accessLog := zap.NewStdLog(appLog.Logger().Named("http")).Writer()

	var h http.Handler = s.router
	h = handlers.CompressHandler(h)
	h = handlers.CombinedLoggingHandler(accessLog, h)
	h = requestID(h)
	h = otelhttp.NewHandler(h, "hadash",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(appLog.Logger().Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)(h)
	return h
}

func (s *Server) registerRoutes() {
	r := s.router

	s.handle("/health", s.handleHealth, http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	s.handle("/api/appletv/state", s.handleAppleTVState, http.MethodGet)
	s.handle("/api/appletv/sleep", s.handleAppleTVSleep, http.MethodPost)
	s.handle("/api/appletv/wake", s.handleAppleTVWake, http.MethodPost)

	s.handle("/api/camera/{id}", s.handleCameraSnapshot, http.MethodGet)
	s.handle("/api/camera/{id}/ptz", s.handleCameraPTZ, http.MethodPost)

	s.handle("/api/calendar", s.handleCalendar, http.MethodGet)
	s.handle("/api/calendar.ics", s.handleCalendarICS, http.MethodGet)

	s.handle("/api/lights", s.handleLights, http.MethodGet)
	s.handle("/api/lights/refresh", s.handleLightsRefresh, http.MethodPost)
	s.handle("/api/lights/off", s.handleLightsOff, http.MethodPost)
	s.handle("/api/lights/{entity_id}/toggle", s.handleLightToggle, http.MethodPost)
	s.handle("/api/lights/{entity_id}/brightness", s.handleLightBrightness, http.MethodPost)

	s.handle("/api/rooms", s.handleRooms, http.MethodGet)

	s.handle("/api/settings", s.handleGetSettings, http.MethodGet)
	s.handle("/api/settings", s.handleSaveSettings, http.MethodPost)

	r.PathPrefix("/").Handler(s.staticFileServer())
}

// handle registers fn under path, labelled for metrics by its template.
func (s *Server) handle(path string, fn http.HandlerFunc, methods ...string) {
	s.router.Handle(path, s.deps.Metrics.WrapHandler(path, fn)).Methods(methods...)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded dashboard shell.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown API paths get a 404, never the HTML shell.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// requestID tags every request with an X-Request-ID, reusing the
// caller's when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
