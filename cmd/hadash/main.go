package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hadash/internal/capture"
	"hadash/internal/config"
	"hadash/internal/hass"
	"hadash/internal/ics"
	"hadash/internal/lightsync"
	appLog "hadash/internal/log"
	"hadash/internal/metrics"
	"hadash/internal/notify"
	"hadash/internal/telemetry"
	"hadash/internal/web"
)

var version = "0.1.0-dev"

type flagConfig struct {
	configPath   string
	listen       string
	snapshotPath string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	if err := appLog.Configure(conf.Logging.Format, conf.Logging.Level); err != nil {
		appLog.Error("invalid logging config", err)
		os.Exit(1)
	}
	defer appLog.Sync()

	appLog.Info("hadash starting", "version", version)
	conf.PrintConfig()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("hadash exited with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("hadash exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	tp, err := telemetry.Init(ctx, conf.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			appLog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	m := metrics.New()

	store := config.NewSettingsStore(conf.HomeAssistant.SettingsPath)
	resolver := config.NewResolver(store, conf.DefaultConnection())
	client := hass.NewClient(resolver,
		hass.WithTimeout(conf.HomeAssistant.Timeout.Std()),
		hass.WithMetrics(m),
	)

	syncer := lightsync.New(client,
		lightsync.WithInterval(conf.Sync.PollInterval.Std()),
		lightsync.WithMetrics(m),
	)

	publisher, err := notify.Connect(conf.MQTT)
	if err != nil {
		// Publishing is optional; the dashboard works without it.
		appLog.Error("mqtt disabled", err, "broker", conf.MQTT.Broker)
	} else if publisher != nil {
		syncer.Observe(publisher)
		defer publisher.Close()
	}

	feedClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	srv := web.NewServer(conf, web.Deps{
		Client:   client,
		Sync:     syncer,
		Settings: store,
		Resolver: resolver,
		Fetcher:  ics.NewFetcher(feedClient, conf.Calendar.CacheDir),
		Metrics:  m,
	})

	sched := cron.New()
	if _, err := sched.AddFunc(conf.Calendar.RefreshCron, func() {
		if err := srv.WarmCalendar(ctx); err != nil {
			appLog.Warn("calendar warm-up failed", "err", err)
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if err := syncer.Start(ctx); err != nil {
		return err
	}
	defer syncer.Stop()

	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Bind before serving so the snapshot browser never races the listener.
	ln, baseURL, err := listen(conf.Listen)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if flags.snapshotPath != "" {
		if err := srv.WarmCalendar(ctx); err != nil {
			appLog.Warn("calendar warm-up failed", "err", err)
		}
		err := capture.CaptureDashboardPNG(ctx, capture.Options{
			URL:        baseURL,
			OutputPath: flags.snapshotPath,
		})
		if err == nil {
			appLog.Info("snapshot written", "path", flags.snapshotPath)
		}
		shutdown(httpServer)
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	shutdown(httpServer)
	return nil
}

// listen binds addr and returns a loopback URL for the bound port.
func listen(addr string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	host := "127.0.0.1"
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		if tcp.IP != nil && !tcp.IP.IsUnspecified() {
			host = tcp.IP.String()
		}
		return ln, "http://" + net.JoinHostPort(host, strconv.Itoa(tcp.Port)) + "/", nil
	}
	return ln, "http://" + ln.Addr().String() + "/", nil
}

func shutdown(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		appLog.Warn("http shutdown failed", "err", err)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/hadash/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.snapshotPath, "snapshot", "", "Capture the dashboard to this PNG and exit")

	flag.Parse()

	return cfg
}
