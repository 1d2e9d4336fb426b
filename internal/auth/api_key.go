package auth

import "crypto/subtle"

// APIKeyVerifier accepts a single shared key. The key authenticates the
// calling frontend, not an individual user, so Verify never returns a
// subject.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) (string, error) {
	if apiKey == "" || v.Expected == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return "", ErrInvalidCredentials
	}
	return "", nil
}
