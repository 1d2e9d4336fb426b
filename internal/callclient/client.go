package callclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tradepost/call-relay/internal/signal"
)

// Credentials carries whatever the relay's auth mode requires. Unset fields
// are simply not sent.
type Credentials struct {
	// Token is a JWT for AUTH_MODE=jwt relays, sent as a Bearer token.
	Token string
	// APIKey is the shared key for AUTH_MODE=api_key relays.
	APIKey string
	// UserID identifies the caller for api_key/none relays.
	UserID string
}

// Client is a typed HTTP client for the relay's /signal surface.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Credentials
}

func New(baseURL string, creds Credentials) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		creds:   creds,
	}
}

// NewWithHTTPClient is for tests and callers that need custom transports.
func NewWithHTTPClient(baseURL string, creds Credentials, hc *http.Client) *Client {
	c := New(baseURL, creds)
	if hc != nil {
		c.http = hc
	}
	return c
}

func (c *Client) setAuth(req *http.Request) {
	if c.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	}
	if c.creds.APIKey != "" {
		req.Header.Set("X-API-Key", c.creds.APIKey)
	}
	if c.creds.UserID != "" {
		req.Header.Set("X-User-ID", c.creds.UserID)
	}
}

// PostSignal sends one signaling message to the relay.
func (c *Client) PostSignal(ctx context.Context, sr signal.PostRequest) error {
	body, err := json.Marshal(sr)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signal", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return relayError(resp)
	}
	return nil
}

func (c *Client) poll(ctx context.Context, fromUserID, toUserID string, pollType signal.PollType) (signal.PollResponse, error) {
	q := url.Values{}
	q.Set("fromUserId", fromUserID)
	q.Set("toUserId", toUserID)
	q.Set("type", string(pollType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/signal?"+q.Encode(), nil)
	if err != nil {
		return signal.PollResponse{}, err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return signal.PollResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return signal.PollResponse{}, relayError(resp)
	}

	var out signal.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return signal.PollResponse{}, fmt.Errorf("decode poll response: %w", err)
	}
	return out, nil
}

// FetchOffer returns the pending offer from fromUserID addressed to
// toUserID, or nil when none is stored.
func (c *Client) FetchOffer(ctx context.Context, fromUserID, toUserID string) (*signal.SessionDescription, error) {
	out, err := c.poll(ctx, fromUserID, toUserID, signal.PollOffer)
	if err != nil {
		return nil, err
	}
	return out.Offer, nil
}

// FetchAnswer returns the pending answer, or nil when none is stored.
func (c *Client) FetchAnswer(ctx context.Context, fromUserID, toUserID string) (*signal.SessionDescription, error) {
	out, err := c.poll(ctx, fromUserID, toUserID, signal.PollAnswer)
	if err != nil {
		return nil, err
	}
	return out.Answer, nil
}

// FetchCandidates returns all candidates accumulated so far, in arrival
// order.
func (c *Client) FetchCandidates(ctx context.Context, fromUserID, toUserID string) ([]signal.Candidate, error) {
	out, err := c.poll(ctx, fromUserID, toUserID, signal.PollCandidates)
	if err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

func (c *Client) SendOffer(ctx context.Context, fromUserID, toUserID string, offer signal.SessionDescription) error {
	return c.PostSignal(ctx, signal.PostRequest{
		Type:       signal.TypeOffer,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Offer:      &offer,
	})
}

func (c *Client) SendAnswer(ctx context.Context, fromUserID, toUserID string, answer signal.SessionDescription) error {
	return c.PostSignal(ctx, signal.PostRequest{
		Type:       signal.TypeAnswer,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Answer:     &answer,
	})
}

func (c *Client) SendCandidate(ctx context.Context, fromUserID, toUserID string, cand signal.Candidate) error {
	return c.PostSignal(ctx, signal.PostRequest{
		Type:       signal.TypeCandidate,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Candidate:  &cand,
	})
}

func (c *Client) EndCall(ctx context.Context, fromUserID, toUserID string) error {
	return c.PostSignal(ctx, signal.PostRequest{
		Type:       signal.TypeEndCall,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
	})
}

func (c *Client) Reject(ctx context.Context, fromUserID, toUserID string) error {
	return c.PostSignal(ctx, signal.PostRequest{
		Type:       signal.TypeReject,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
	})
}

// RelayError is a non-2xx response from the relay.
type RelayError struct {
	Status  int
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay: %s (%s, http %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("relay: http %d", e.Status)
}

func relayError(resp *http.Response) error {
	out := &RelayError{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var parsed signal.ErrorResponse
		if json.Unmarshal(body, &parsed) == nil {
			out.Code = parsed.Code
			out.Message = parsed.Message
		}
	}
	return out
}
