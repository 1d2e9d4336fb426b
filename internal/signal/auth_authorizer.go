package signal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tradepost/call-relay/internal/auth"
	"github.com/tradepost/call-relay/internal/config"
)

// AuthAuthorizer enforces AUTH_MODE=none|api_key|jwt for signaling endpoints.
//
// Identity sources:
//   - jwt: the `sub` claim of the verified token.
//   - api_key / none: the X-User-ID header set by the marketplace frontend.
//     With api_key the shared key proves the frontend already authenticated
//     the user; none is for local development only.
type AuthAuthorizer struct {
	mode     config.AuthMode
	verifier auth.Verifier
}

func NewAuthAuthorizer(cfg config.Config) (AuthAuthorizer, error) {
	if cfg.AuthMode == config.AuthModeNone {
		return AuthAuthorizer{mode: cfg.AuthMode}, nil
	}
	v, err := auth.NewVerifier(cfg)
	if err != nil {
		return AuthAuthorizer{}, err
	}
	return AuthAuthorizer{
		mode:     cfg.AuthMode,
		verifier: v,
	}, nil
}

func (a AuthAuthorizer) Authorize(r *http.Request) (Identity, error) {
	switch a.mode {
	case config.AuthModeNone:
		return identityFromHeader(r)
	case config.AuthModeAPIKey:
		cred, err := auth.CredentialFromRequest(a.mode, r)
		if err != nil {
			return Identity{}, err
		}
		if _, err := a.verifier.Verify(cred); err != nil {
			return Identity{}, err
		}
		return identityFromHeader(r)
	case config.AuthModeJWT:
		cred, err := auth.CredentialFromRequest(a.mode, r)
		if err != nil {
			return Identity{}, err
		}
		sub, err := a.verifier.Verify(cred)
		if err != nil {
			return Identity{}, err
		}
		return Identity{UserID: sub}, nil
	default:
		return Identity{}, fmt.Errorf("unsupported auth mode %q", a.mode)
	}
}

func identityFromHeader(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(auth.UserIDHeader))
	if id == "" {
		return Identity{}, auth.ErrMissingCredentials
	}
	return Identity{UserID: id}, nil
}

// IsUnauthorized reports whether err should surface as a 401 rather than an
// internal error.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, auth.ErrMissingCredentials) ||
		errors.Is(err, auth.ErrInvalidCredentials) ||
		errors.Is(err, auth.ErrUnsupportedJWT)
}
