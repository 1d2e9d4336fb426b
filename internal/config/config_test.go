package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	// JWT is the default auth mode, so a secret is the only required input.
	cfg, err := load(lookupFrom(map[string]string{
		"JWT_SECRET": "s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat = %q (dev default is text)", cfg.LogFormat)
	}
	if cfg.AuthMode != AuthModeJWT {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.SignalTTL != DefaultSignalTTL || cfg.SignalSweepInterval != DefaultSignalSweepInterval {
		t.Fatalf("ttl/sweep = %v/%v", cfg.SignalTTL, cfg.SignalSweepInterval)
	}
	if cfg.MaxSignalBodyBytes != DefaultMaxSignalBodyBytes {
		t.Fatalf("MaxSignalBodyBytes = %d", cfg.MaxSignalBodyBytes)
	}
	if cfg.MaxSignalsPerSecond != DefaultMaxSignalsPerSecond {
		t.Fatalf("MaxSignalsPerSecond = %d", cfg.MaxSignalsPerSecond)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"CALL_RELAY_LISTEN_ADDR": "0.0.0.0:9090",
		"CALL_RELAY_MODE":        "prod",
		"AUTH_MODE":              "api_key",
		"API_KEY":                "k",
		"ALLOWED_ORIGINS":        "https://a.example.com, https://b.example.com",
		"SIGNAL_TTL":             "90s",
		"SIGNAL_SWEEP_INTERVAL":  "10s",
		"MAX_SIGNAL_BODY_BYTES":  "1024",
		"MAX_SIGNALS_PER_SECOND": "5",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9090" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat = %q (prod default is json)", cfg.LogFormat)
	}
	if cfg.AuthMode != AuthModeAPIKey || cfg.APIKey != "k" {
		t.Fatalf("auth = %q/%q", cfg.AuthMode, cfg.APIKey)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.SignalTTL != 90*time.Second || cfg.SignalSweepInterval != 10*time.Second {
		t.Fatalf("ttl/sweep = %v/%v", cfg.SignalTTL, cfg.SignalSweepInterval)
	}
	if cfg.MaxSignalBodyBytes != 1024 || cfg.MaxSignalsPerSecond != 5 {
		t.Fatalf("body/rate = %d/%d", cfg.MaxSignalBodyBytes, cfg.MaxSignalsPerSecond)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"CALL_RELAY_LISTEN_ADDR": "127.0.0.1:1111",
		"CALL_RELAY_MODE":        "dev",
		"JWT_SECRET":             "s",
	}), []string{"-listen-addr", "127.0.0.1:2222", "-mode", "prod", "-log-level", "debug"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("Mode = %q", cfg.Mode)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{
			name:    "jwt without secret",
			env:     map[string]string{"AUTH_MODE": "jwt"},
			wantErr: "JWT_SECRET",
		},
		{
			name:    "api_key without key",
			env:     map[string]string{"AUTH_MODE": "api_key"},
			wantErr: "API_KEY",
		},
		{
			name:    "ttl without sweep interval",
			env:     map[string]string{"AUTH_MODE": "none", "SIGNAL_TTL": "1m", "SIGNAL_SWEEP_INTERVAL": "0"},
			wantErr: "SIGNAL_SWEEP_INTERVAL",
		},
		{
			name:    "bad mode",
			env:     map[string]string{"AUTH_MODE": "none", "CALL_RELAY_MODE": "staging"},
			wantErr: "mode",
		},
		{
			name:    "bad auth mode",
			env:     map[string]string{"AUTH_MODE": "oauth"},
			wantErr: "auth",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"AUTH_MODE": "none", "SIGNAL_TTL": "soon"},
			wantErr: "SIGNAL_TTL",
		},
		{
			name:    "positional argument",
			env:     map[string]string{"AUTH_MODE": "none"},
			args:    []string{"serve"},
			wantErr: "unexpected argument",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFrom(tc.env), tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_TTLDisabled(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"AUTH_MODE":  "none",
		"SIGNAL_TTL": "0",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalTTL != 0 {
		t.Fatalf("SignalTTL = %v, want 0", cfg.SignalTTL)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected unsupported format to be rejected")
	}
}
