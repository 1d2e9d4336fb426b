package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "CALL_RELAY_LISTEN_ADDR"
	envVarMode            = "CALL_RELAY_MODE"
	envVarLogFormat       = "CALL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "CALL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "CALL_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Auth.
	envVarAuthMode  = "AUTH_MODE"
	envVarAPIKey    = "API_KEY"
	envVarJWTSecret = "JWT_SECRET"

	// Signal store lifecycle.
	envVarSignalTTL           = "SIGNAL_TTL"
	envVarSignalSweepInterval = "SIGNAL_SWEEP_INTERVAL"

	// Request hardening.
	envVarMaxSignalBodyBytes      = "MAX_SIGNAL_BODY_BYTES"
	envVarMaxSignalsPerSecond     = "MAX_SIGNALS_PER_SECOND"
	envVarMaxTrackedSignalSenders = "MAX_TRACKED_SIGNAL_SENDERS"

	// WebSocket event feed keepalive.
	envVarEventsWSIdleTimeout  = "EVENTS_WS_IDLE_TIMEOUT"
	envVarEventsWSPingInterval = "EVENTS_WS_PING_INTERVAL"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMode            = ModeDev
	DefaultAuthMode        = AuthModeJWT

	// DefaultSignalTTL bounds how long an abandoned record (browser crashed
	// before sending end-call) stays resident.
	DefaultSignalTTL           = 5 * time.Minute
	DefaultSignalSweepInterval = 30 * time.Second

	DefaultMaxSignalBodyBytes      = int64(64 * 1024)
	DefaultMaxSignalsPerSecond     = 25
	DefaultMaxTrackedSignalSenders = 4096

	DefaultEventsWSIdleTimeout  = 60 * time.Second
	DefaultEventsWSPingInterval = 20 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	// SignalTTL <= 0 disables the janitor.
	SignalTTL           time.Duration
	SignalSweepInterval time.Duration

	MaxSignalBodyBytes      int64
	MaxSignalsPerSecond     int
	MaxTrackedSignalSenders int

	EventsWSIdleTimeout  time.Duration
	EventsWSPingInterval time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode := envOrDefault(lookup, envVarMode, string(DefaultMode))
	envLogFormat := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(envMode))
	envLogLevel := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(envMode))

	fs := flag.NewFlagSet("call-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "TCP listen address")
	modeStr := fs.String("mode", envMode, "deployment mode (dev or prod)")
	logFormatStr := fs.String("log-format", envLogFormat, "log format (text or json)")
	logLevelStr := fs.String("log-level", envLogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	authMode, err := parseAuthMode(envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	signalTTL, err := envDurationOrDefault(lookup, envVarSignalTTL, DefaultSignalTTL)
	if err != nil {
		return Config{}, err
	}
	signalSweepInterval, err := envDurationOrDefault(lookup, envVarSignalSweepInterval, DefaultSignalSweepInterval)
	if err != nil {
		return Config{}, err
	}
	eventsIdleTimeout, err := envDurationOrDefault(lookup, envVarEventsWSIdleTimeout, DefaultEventsWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	eventsPingInterval, err := envDurationOrDefault(lookup, envVarEventsWSPingInterval, DefaultEventsWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxBodyBytes, err := envInt64OrDefault(lookup, envVarMaxSignalBodyBytes, DefaultMaxSignalBodyBytes)
	if err != nil {
		return Config{}, err
	}
	maxSignalsPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalsPerSecond, DefaultMaxSignalsPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxTrackedSenders, err := envIntOrDefault(lookup, envVarMaxTrackedSignalSenders, DefaultMaxTrackedSignalSenders)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  splitCommaList(envOrDefault(lookup, envVarAllowedOrigins, "")),

		AuthMode:  authMode,
		APIKey:    envOrDefault(lookup, envVarAPIKey, ""),
		JWTSecret: envOrDefault(lookup, envVarJWTSecret, ""),

		SignalTTL:           signalTTL,
		SignalSweepInterval: signalSweepInterval,

		MaxSignalBodyBytes:      maxBodyBytes,
		MaxSignalsPerSecond:     maxSignalsPerSecond,
		MaxTrackedSignalSenders: maxTrackedSenders,

		EventsWSIdleTimeout:  eventsIdleTimeout,
		EventsWSPingInterval: eventsPingInterval,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.AuthMode {
	case AuthModeNone:
	case AuthModeAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%s is required when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
		}
	case AuthModeJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("%s is required when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
		}
	}
	if c.SignalTTL > 0 && c.SignalSweepInterval <= 0 {
		return fmt.Errorf("%s must be positive when %s is set", envVarSignalSweepInterval, envVarSignalTTL)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q (expected none, api_key or jwt)", raw)
	}
}
