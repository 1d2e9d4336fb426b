package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradepost/call-relay/internal/metrics"
)

// EventType identifies a push notification on the events feed.
type EventType string

const (
	// EventIncomingCall is sent to the callee when a fresh offer is stored.
	EventIncomingCall EventType = "incoming-call"
	// EventCallEnded is sent to the peer when the other side tears the call
	// down (end-call or reject).
	EventCallEnded EventType = "call-ended"
)

// Event is one notification on the /signal/events feed.
type Event struct {
	Type       EventType `json:"type"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
}

// eventHub fans signal events out to per-user WebSocket subscribers. Delivery
// is best effort: a subscriber that cannot keep up has events dropped rather
// than blocking the posting request. The polling endpoint remains the source
// of truth.
type eventHub struct {
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func newEventHub(m *metrics.Metrics) *eventHub {
	return &eventHub{
		metrics: m,
		subs:    make(map[string]map[chan Event]struct{}),
	}
}

func (h *eventHub) subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Inc(metrics.EventSubscribers)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			set, ok := h.subs[userID]
			if ok {
				if _, ok = set[ch]; ok {
					delete(set, ch)
					if len(set) == 0 {
						delete(h.subs, userID)
					}
				}
			}
			h.mu.Unlock()
			// closeAll may have detached and closed ch already; only close
			// what this cancel actually removed.
			if ok {
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (h *eventHub) publish(userID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- ev:
		default:
			if h.metrics != nil {
				h.metrics.Inc(metrics.EventsDropped)
			}
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[chan Event]struct{})
	h.mu.Unlock()

	for _, set := range subs {
		for ch := range set {
			close(ch)
		}
	}
}

const wsWriteWait = 1 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Identity is checked before the upgrade so unauthenticated callers get a
	// proper HTTP status instead of an immediate close frame.
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.allowedOrigins, r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	events, cancel := s.hub.subscribe(id.UserID)
	defer cancel()
	defer conn.Close()

	idle := s.eventsIdle()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	// The feed is write-only; the read loop only services control frames and
	// detects the peer going away.
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.eventsPing())
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-readErr:
			return
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	// No Origin header means a non-browser client; browsers always send one
	// on WebSocket handshakes.
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}
