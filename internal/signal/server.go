package signal

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tradepost/call-relay/internal/metrics"
	"github.com/tradepost/call-relay/internal/ratelimit"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Store      *Store
	Authorizer Authorizer

	// Metrics may be nil; counters are then dropped.
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Limiter bounds per-user POST /signal rates. Nil disables limiting.
	Limiter *ratelimit.SenderLimiter

	// MaxBodyBytes caps POST /signal bodies. <= 0 selects a default.
	MaxBodyBytes int64

	// AllowedOrigins restricts browser access to the events WebSocket. Empty
	// allows any origin (dev, or non-browser clients).
	AllowedOrigins []string

	EventsIdleTimeout  time.Duration
	EventsPingInterval time.Duration
}

// Server implements the relay's HTTP signaling surface.
//
// Endpoints:
//   - POST /signal        : store an offer/answer/candidate, or tear a call down
//   - GET  /signal        : poll the latest offer/answer/candidates for a pair
//   - GET  /signal/events : WebSocket push feed of inbound call events
type Server struct {
	store      *Store
	authorizer Authorizer
	metrics    *metrics.Metrics
	log        *slog.Logger
	limiter    *ratelimit.SenderLimiter

	maxBodyBytes   int64
	allowedOrigins []string

	eventsIdleTimeout  time.Duration
	eventsPingInterval time.Duration

	hub *eventHub
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:              cfg.Store,
		authorizer:         cfg.Authorizer,
		metrics:            cfg.Metrics,
		log:                log,
		limiter:            cfg.Limiter,
		maxBodyBytes:       cfg.MaxBodyBytes,
		allowedOrigins:     cfg.AllowedOrigins,
		eventsIdleTimeout:  cfg.EventsIdleTimeout,
		eventsPingInterval: cfg.EventsPingInterval,
		hub:                newEventHub(cfg.Metrics),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /signal", s.handlePost)
	mux.HandleFunc("GET /signal", s.handlePoll)
	mux.HandleFunc("GET /signal/events", s.handleEvents)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close disconnects all event subscribers.
func (s *Server) Close() {
	s.hub.closeAll()
}

func (s *Server) maxBody() int64 {
	if s.maxBodyBytes <= 0 {
		return 64 * 1024
	}
	return s.maxBodyBytes
}

func (s *Server) eventsIdle() time.Duration {
	if s.eventsIdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.eventsIdleTimeout
}

func (s *Server) eventsPing() time.Duration {
	if s.eventsPingInterval <= 0 {
		return 20 * time.Second
	}
	return s.eventsPingInterval
}

func (s *Server) incMetric(name string) {
	if s.metrics != nil {
		s.metrics.Inc(name)
	}
}

// authorize resolves the caller identity or writes the appropriate error
// response. The bool result reports whether processing may continue.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, err := s.authorizer.Authorize(r)
	if err != nil {
		if IsUnauthorized(err) {
			s.incMetric(metrics.AuthFailure)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		} else {
			s.log.Error("authorizer failed", "err", err)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "authorization failed")
		}
		return Identity{}, false
	}
	return id, true
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	// Identity is resolved before any store mutation.
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}

	if s.limiter != nil && !s.limiter.Allow(id.UserID) {
		s.incMetric(metrics.RateLimited)
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "signal rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody()))
	if err != nil {
		s.incMetric(metrics.BadSignal)
		writeJSONError(w, http.StatusBadRequest, "bad_message", "invalid request body")
		return
	}
	req, err := ParsePostRequest(body)
	if err != nil {
		s.incMetric(metrics.BadSignal)
		writeJSONError(w, http.StatusBadRequest, "bad_message", err.Error())
		return
	}

	if !authorizedForSignal(id, req) {
		s.incMetric(metrics.Forbidden)
		writeJSONError(w, http.StatusForbidden, "forbidden", "caller is not a participant of this call")
		return
	}

	key := CallKey(req.FromUserID, req.ToUserID)

	switch req.Type {
	case TypeOffer:
		// A new offer starts a new call attempt: any stale answer or
		// candidates from a previous attempt are discarded.
		s.store.PutOffer(key, *req.Offer)
		s.incMetric(metrics.OfferStored)
		s.hub.publish(req.ToUserID, Event{
			Type:       EventIncomingCall,
			FromUserID: req.FromUserID,
			ToUserID:   req.ToUserID,
		})
	case TypeAnswer:
		s.store.PutAnswer(key, *req.Answer)
		s.incMetric(metrics.AnswerStored)
	case TypeCandidate:
		s.store.AppendCandidate(key, *req.Candidate)
		s.incMetric(metrics.CandidateStored)
	case TypeEndCall, TypeReject:
		// Deleting an absent record is a no-op, so teardown is idempotent no
		// matter how many times or from which side it is sent.
		s.store.Delete(key)
		if req.Type == TypeEndCall {
			s.incMetric(metrics.CallEnded)
		} else {
			s.incMetric(metrics.CallRejected)
		}
		s.hub.publish(peerOf(id.UserID, req), Event{
			Type:       EventCallEnded,
			FromUserID: req.FromUserID,
			ToUserID:   req.ToUserID,
		})
	}

	s.log.Debug("signal stored",
		"type", string(req.Type),
		"from", req.FromUserID,
		"to", req.ToUserID,
	)
	writeJSON(w, http.StatusOK, PostResponse{Success: true})
}

// authorizedForSignal applies the per-type participant rules: offer, answer
// and candidate writes must come from fromUserId; teardown may come from
// either side.
func authorizedForSignal(id Identity, req PostRequest) bool {
	switch req.Type {
	case TypeEndCall, TypeReject:
		return id.UserID == req.FromUserID || id.UserID == req.ToUserID
	default:
		return id.UserID == req.FromUserID
	}
}

// peerOf returns the participant on the other side of the call from userID.
func peerOf(userID string, req PostRequest) string {
	if req.FromUserID == userID {
		return req.ToUserID
	}
	return req.FromUserID
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorize(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	fromUserID := q.Get("fromUserId")
	toUserID := q.Get("toUserId")
	pollType := PollType(q.Get("type"))

	if err := validateUserID("fromUserId", fromUserID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_message", err.Error())
		return
	}
	if err := validateUserID("toUserId", toUserID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_message", err.Error())
		return
	}
	switch pollType {
	case PollOffer, PollAnswer, PollCandidates:
	default:
		writeJSONError(w, http.StatusBadRequest, "bad_message", "unsupported poll type")
		return
	}

	// Only the addressed recipient may read signaling state for the pair.
	if id.UserID != toUserID {
		s.incMetric(metrics.Forbidden)
		writeJSONError(w, http.StatusForbidden, "forbidden", "caller is not the addressed recipient")
		return
	}

	rec, found := s.store.Get(CallKey(fromUserID, toUserID))
	if !found {
		// Expected steady state while no call is pending; not an error.
		s.incMetric(metrics.PollEmpty)
		writeJSON(w, http.StatusOK, PollResponse{})
		return
	}

	var resp PollResponse
	switch pollType {
	case PollOffer:
		resp.Offer = rec.Offer
	case PollAnswer:
		resp.Answer = rec.Answer
	case PollCandidates:
		resp.Candidates = rec.Candidates
	}

	if resp.Offer == nil && resp.Answer == nil && len(resp.Candidates) == 0 {
		s.incMetric(metrics.PollEmpty)
	} else {
		s.incMetric(metrics.PollServed)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
