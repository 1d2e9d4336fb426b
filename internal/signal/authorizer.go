package signal

import "net/http"

// Identity is the authenticated caller of a signaling request.
type Identity struct {
	UserID string
}

// Authorizer resolves the caller identity for a request. Per-pair
// authorization (may this user touch this call record?) is enforced by the
// handlers; the Authorizer only answers "who is calling".
type Authorizer interface {
	Authorize(r *http.Request) (Identity, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(r *http.Request) (Identity, error)

func (f AuthorizerFunc) Authorize(r *http.Request) (Identity, error) {
	return f(r)
}
