package callclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradepost/call-relay/internal/signal"
)

// IncomingCall describes a pending offer addressed to the local user.
type IncomingCall struct {
	FromUserID string
	// Offer is set when the call was discovered by polling; events-feed
	// discoveries carry no SDP and the answer path fetches it.
	Offer *signal.SessionDescription
}

// NotifierConfig tunes incoming-call discovery.
type NotifierConfig struct {
	// Contacts is the set of user IDs polled for pending offers when the
	// events feed is unavailable. The feed itself needs no contact list.
	Contacts []string
	// PollInterval is the fallback polling cadence. <= 0 selects 2s.
	PollInterval time.Duration
	// ReconnectDelay is how long to wait before redialing a dropped events
	// feed. <= 0 selects 5s.
	ReconnectDelay time.Duration
	// DisableEvents forces polling-only operation.
	DisableEvents bool

	Logger *slog.Logger
}

func (c NotifierConfig) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return 2 * time.Second
	}
	return c.PollInterval
}

func (c NotifierConfig) reconnectDelay() time.Duration {
	if c.ReconnectDelay <= 0 {
		return 5 * time.Second
	}
	return c.ReconnectDelay
}

// Notifier watches the relay for calls addressed to the local user. It
// prefers the websocket events feed and falls back to polling the contact
// list; either way each distinct pending call is announced exactly once.
type Notifier struct {
	client *Client
	self   string
	cfg    NotifierConfig
	log    *slog.Logger

	onCall  func(IncomingCall)
	onEnded func(fromUserID string)

	mu sync.Mutex
	// announced maps caller ID to the fingerprint of the offer already
	// reported, so a re-poll of the same offer stays silent while a brand
	// new offer from the same caller rings again.
	announced map[string]string
}

// NewNotifier builds a notifier; Run starts it. onCall fires for each newly
// discovered call, onEnded (optional) when a peer ends or rejects a call.
// Both run on the notifier goroutine and must not block.
func NewNotifier(client *Client, self string, cfg NotifierConfig, onCall func(IncomingCall), onEnded func(fromUserID string)) *Notifier {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		client:    client,
		self:      self,
		cfg:       cfg,
		log:       log,
		onCall:    onCall,
		onEnded:   onEnded,
		announced: make(map[string]string),
	}
}

// Run blocks until ctx is cancelled, watching for incoming calls.
func (n *Notifier) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !n.cfg.DisableEvents {
			if err := n.runEvents(ctx); err != nil && ctx.Err() == nil {
				n.log.Debug("events feed unavailable, polling instead", "err", err)
			}
		}
		if ctx.Err() != nil {
			return
		}

		// One polling pass covers the window until the next feed attempt.
		n.pollUntil(ctx, n.cfg.reconnectDelay())
	}
}

// Forget clears the dedup state for a caller. Call it after answering,
// declining, or ending a call so that caller's next offer rings again.
func (n *Notifier) Forget(fromUserID string) {
	n.mu.Lock()
	delete(n.announced, fromUserID)
	n.mu.Unlock()
}

// runEvents consumes the relay's websocket feed until it drops.
func (n *Notifier) runEvents(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, n.eventsURL(), n.authHeader())
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return err
	}
	defer conn.Close()

	// Cancellation must interrupt the blocking read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		var ev signal.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		switch ev.Type {
		case signal.EventIncomingCall:
			n.announce(ev.FromUserID, nil, "")
		case signal.EventCallEnded:
			n.Forget(ev.FromUserID)
			if n.onEnded != nil {
				n.onEnded(ev.FromUserID)
			}
		}
	}
}

// pollUntil scans the contact list for pending offers for roughly d.
func (n *Notifier) pollUntil(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(n.cfg.pollInterval())
	defer ticker.Stop()

	for {
		n.pollOnce(ctx)

		if time.Now().After(deadline) && !n.cfg.DisableEvents {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *Notifier) pollOnce(ctx context.Context) {
	for _, contact := range n.cfg.Contacts {
		if contact == n.self {
			continue
		}
		offer, err := n.client.FetchOffer(ctx, contact, n.self)
		if err != nil {
			n.log.Debug("offer poll failed", "contact", contact, "err", err)
			continue
		}
		if offer == nil {
			// No pending offer; if one was announced earlier it has been
			// consumed or withdrawn, so the next one should ring again.
			n.Forget(contact)
			continue
		}
		n.announce(contact, offer, offerFingerprint(*offer))
	}
}

// announce reports a call unless the same offer was already reported. An
// empty fingerprint (events feed, no SDP at hand) dedups per caller.
func (n *Notifier) announce(fromUserID string, offer *signal.SessionDescription, fingerprint string) {
	n.mu.Lock()
	prev, seen := n.announced[fromUserID]
	if seen && (fingerprint == "" || prev == fingerprint) {
		n.mu.Unlock()
		return
	}
	n.announced[fromUserID] = fingerprint
	n.mu.Unlock()

	n.onCall(IncomingCall{FromUserID: fromUserID, Offer: offer})
}

func (n *Notifier) eventsURL() string {
	u := n.client.baseURL + "/signal/events"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (n *Notifier) authHeader() http.Header {
	h := http.Header{}
	if n.client.creds.Token != "" {
		h.Set("Authorization", "Bearer "+n.client.creds.Token)
	}
	if n.client.creds.APIKey != "" {
		h.Set("X-API-Key", n.client.creds.APIKey)
	}
	if n.client.creds.UserID != "" {
		h.Set("X-User-ID", n.client.creds.UserID)
	}
	return h
}

func offerFingerprint(sd signal.SessionDescription) string {
	sum := sha256.Sum256([]byte(sd.Type + "\x00" + sd.SDP))
	return hex.EncodeToString(sum[:])
}
