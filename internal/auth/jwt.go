package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const (
	// HMAC-SHA256 output size in bytes.
	hmacSHA256SigLen = 32
	// base64url-no-pad length of a 32-byte HMAC.
	hmacSHA256SigB64Len = 43
	maxJWTHeaderB64Len  = 4 * 1024
	maxJWTPayloadB64Len = 16 * 1024
	maxJWTLen           = maxJWTHeaderB64Len + 1 + maxJWTPayloadB64Len + 1 + hmacSHA256SigB64Len
)

// JWTVerifier validates HS256 tokens minted by the marketplace frontend. The
// `sub` claim is the authenticated user ID, which the relay uses to authorize
// per-pair signal access.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (v JWTVerifier) Verify(token string) (string, error) {
	headerB64, payloadB64, sigB64, ok := splitJWTParts(token)
	if !ok {
		return "", ErrInvalidCredentials
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return "", ErrInvalidCredentials
	}
	alg, ok := header["alg"].(string)
	if !ok {
		return "", ErrInvalidCredentials
	}
	if alg != "HS256" {
		return "", ErrUnsupportedJWT
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(gotSig) != hmacSHA256SigLen {
		return "", ErrInvalidCredentials
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(headerB64))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write([]byte(payloadB64))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return "", ErrInvalidCredentials
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return "", ErrInvalidCredentials
	}
	// json.Decoder allows trailing bytes after the first top-level value.
	// Require the payload to be exactly one JSON object.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return "", ErrInvalidCredentials
	}

	now := v.now().Unix()

	exp, ok := claims["exp"]
	if !ok {
		return "", ErrInvalidCredentials
	}
	expUnix, err := parseUnixTimestamp(exp)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if now >= expUnix {
		return "", ErrInvalidCredentials
	}

	if nbf, ok := claims["nbf"]; ok {
		nbfUnix, err := parseUnixTimestamp(nbf)
		if err != nil {
			return "", ErrInvalidCredentials
		}
		if now < nbfUnix {
			return "", ErrInvalidCredentials
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidCredentials
	}
	return sub, nil
}

func splitJWTParts(token string) (headerB64, payloadB64, sigB64 string, ok bool) {
	if token == "" || len(token) > maxJWTLen {
		return "", "", "", false
	}
	headerB64, rest, found := strings.Cut(token, ".")
	if !found {
		return "", "", "", false
	}
	payloadB64, sigB64, found = strings.Cut(rest, ".")
	if !found || strings.Contains(sigB64, ".") {
		return "", "", "", false
	}
	if headerB64 == "" || payloadB64 == "" || sigB64 == "" {
		return "", "", "", false
	}
	if len(headerB64) > maxJWTHeaderB64Len || len(payloadB64) > maxJWTPayloadB64Len {
		return "", "", "", false
	}
	if len(sigB64) != hmacSHA256SigB64Len {
		return "", "", "", false
	}
	if !isBase64urlNoPad(headerB64) || !isBase64urlNoPad(payloadB64) || !isBase64urlNoPad(sigB64) {
		return "", "", "", false
	}
	return headerB64, payloadB64, sigB64, true
}

// isBase64urlNoPad accepts only canonical base64url without padding: the
// unused bits of the final quantum must be zero.
func isBase64urlNoPad(raw string) bool {
	if raw == "" || len(raw)%4 == 1 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if _, ok := b64urlValue(raw[i]); !ok {
			return false
		}
	}
	switch len(raw) % 4 {
	case 0:
		return true
	case 2:
		last, _ := b64urlValue(raw[len(raw)-1])
		return (last & 0x0f) == 0
	case 3:
		last, _ := b64urlValue(raw[len(raw)-1])
		return (last & 0x03) == 0
	default:
		return false
	}
}

func b64urlValue(b byte) (byte, bool) {
	switch {
	case b >= 'A' && b <= 'Z':
		return b - 'A', true
	case b >= 'a' && b <= 'z':
		return b - 'a' + 26, true
	case b >= '0' && b <= '9':
		return b - '0' + 52, true
	case b == '-':
		return 62, true
	case b == '_':
		return 63, true
	default:
		return 0, false
	}
}

func parseUnixTimestamp(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Int64()
	default:
		return 0, fmt.Errorf("invalid timestamp %T", v)
	}
}
