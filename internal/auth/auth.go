package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tradepost/call-relay/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserIDHeader carries the caller identity in auth modes where the credential
// itself does not name a user (none, api_key). It is only trustworthy when
// the relay sits behind a frontend that sets it after its own authentication.
const UserIDHeader = "X-User-ID"

// Verifier checks a credential and, when the credential names a user (JWT),
// returns that user's ID. For credentials that do not (shared API key), the
// returned subject is empty and the caller identity comes from UserIDHeader.
type Verifier interface {
	Verify(credential string) (subject string, err error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromRequest extracts the caller's credential for the configured
// auth mode. Headers are preferred; the query string is a fallback for
// clients (e.g. browser WebSocket constructors) that cannot set headers.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	switch mode {
	case config.AuthModeAPIKey:
		if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
			return key, nil
		}
		if key := r.URL.Query().Get("apiKey"); key != "" {
			return key, nil
		}
		return "", ErrMissingCredentials
	case config.AuthModeJWT:
		if h := r.Header.Get("Authorization"); h != "" {
			scheme, token, found := strings.Cut(h, " ")
			if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
				return strings.TrimSpace(token), nil
			}
			return "", ErrInvalidCredentials
		}
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}
