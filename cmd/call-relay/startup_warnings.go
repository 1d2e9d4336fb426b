package main

import (
	"log/slog"
	"time"

	"github.com/tradepost/call-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication (any client may impersonate any user ID)",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is unset while --mode=prod (any browser origin may open the events feed)",
			"warning_code", "allowed_origins_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalsPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALS_PER_SECOND is unset/0 (no per-sender rate limiting; signaling flood risk)",
			"warning_code", "signal_rate_limit_disabled",
			"max_signals_per_second", cfg.MaxSignalsPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.SignalTTL <= 0 {
		logger.Warn("startup security warning: SIGNAL_TTL is unset/0 (abandoned call records are never swept; unbounded memory growth)",
			"warning_code", "signal_ttl_disabled",
			"signal_ttl", cfg.SignalTTL,
			"mode", cfg.Mode,
		)
	} else if cfg.SignalTTL > time.Hour {
		logger.Warn("startup security warning: SIGNAL_TTL is very large (stale offers stay deliverable long after the caller gave up)",
			"warning_code", "signal_ttl_large",
			"signal_ttl", cfg.SignalTTL,
			"mode", cfg.Mode,
		)
	}

	// Warn if the body cap is unusually large, since SDP blobs and candidate
	// lines fit comfortably under the default.
	if cfg.MaxSignalBodyBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNAL_BODY_BYTES is very large (increases per-request allocation risk)",
			"warning_code", "max_signal_body_large",
			"max_signal_body_bytes", cfg.MaxSignalBodyBytes,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
