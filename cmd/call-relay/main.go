package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/tradepost/call-relay/internal/config"
	"github.com/tradepost/call-relay/internal/httpserver"
	"github.com/tradepost/call-relay/internal/metrics"
	"github.com/tradepost/call-relay/internal/ratelimit"
	sig "github.com/tradepost/call-relay/internal/signal"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting call-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"signal_ttl", cfg.SignalTTL,
		"signal_sweep_interval", cfg.SignalSweepInterval,
		"max_signal_body_bytes", cfg.MaxSignalBodyBytes,
		"max_signals_per_second", cfg.MaxSignalsPerSecond,
		"allowed_origins", len(cfg.AllowedOrigins),
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime))

	m := metrics.New()
	store := sig.NewStore()

	authz, err := sig.NewAuthAuthorizer(cfg)
	if err != nil {
		logger.Error("failed to configure signaling auth", "err", err)
		os.Exit(2)
	}

	var limiter *ratelimit.SenderLimiter
	if cfg.MaxSignalsPerSecond > 0 {
		limiter = ratelimit.NewSenderLimiter(ratelimit.RealClock{}, cfg.MaxSignalsPerSecond, cfg.MaxTrackedSignalSenders)
	}

	signalSrv := sig.NewServer(sig.Config{
		Store:              store,
		Authorizer:         authz,
		Metrics:            m,
		Logger:             logger,
		Limiter:            limiter,
		MaxBodyBytes:       cfg.MaxSignalBodyBytes,
		AllowedOrigins:     cfg.AllowedOrigins,
		EventsIdleTimeout:  cfg.EventsWSIdleTimeout,
		EventsPingInterval: cfg.EventsWSPingInterval,
	})
	signalSrv.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	janitorCtx, janitorStop := context.WithCancel(context.Background())
	defer janitorStop()
	if cfg.SignalTTL > 0 {
		go store.Janitor(janitorCtx, cfg.SignalTTL, cfg.SignalSweepInterval, func(removed int) {
			m.Add(metrics.RecordsSwept, uint64(removed))
			logger.Debug("swept expired call records", "removed", removed)
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		signalSrv.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	signalSrv.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
