package callclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tradepost/call-relay/internal/signal"
)

// State is the user-visible call lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// ErrNotPickedUp is returned by Dial when the callee never answered within
// the polling budget.
var ErrNotPickedUp = errors.New("call was not picked up")

// ErrNoPendingOffer is returned by Answer when no offer from the peer is
// stored at the relay.
var ErrNoPendingOffer = errors.New("no pending offer")

// Config tunes a call's polling behaviour.
type Config struct {
	// AnswerPollAttempts bounds how long a caller waits for the callee to
	// pick up. <= 0 selects the default of 30 attempts.
	AnswerPollAttempts int
	// PollInterval is the delay between relay polls. <= 0 selects 1s.
	PollInterval time.Duration

	// ICEServers are passed to the local PeerConnection.
	ICEServers []webrtc.ICEServer

	// SetupPeer prepares the PeerConnection before negotiation: acquiring
	// media tracks, creating data channels. Failures abort the call attempt
	// and are classified via MediaFailure.
	SetupPeer func(*webrtc.PeerConnection) error

	// OnStateChange, if set, observes every state transition.
	OnStateChange func(State)

	Logger *slog.Logger
}

func (c Config) answerPollAttempts() int {
	if c.AnswerPollAttempts <= 0 {
		return 30
	}
	return c.AnswerPollAttempts
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Second
	}
	return c.PollInterval
}

// Call drives one WebRTC call through the relay, from either side.
type Call struct {
	client *Client
	self   string
	peer   string
	cfg    Config
	log    *slog.Logger

	pc *webrtc.PeerConnection

	mu    sync.Mutex
	state State

	// pumpCancel stops the candidate pump goroutine.
	pumpCancel context.CancelFunc

	teardownOnce sync.Once
}

func newCall(client *Client, api *webrtc.API, self, peer string, cfg Config) (*Call, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Call{
		client: client,
		self:   self,
		peer:   peer,
		cfg:    cfg,
		log:    log,
		pc:     pc,
		state:  StateIdle,
	}

	// Trickle locally discovered candidates to the relay as they appear.
	// A failed send is tolerable: ICE keeps generating candidates and the
	// counterpart retries its candidate poll.
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		wire := signal.CandidateFromPion(cand.ToJSON())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.SendCandidate(ctx, self, peer, wire); err != nil {
			log.Warn("failed to send ice candidate", "peer", peer, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		switch cs {
		case webrtc.PeerConnectionStateConnected:
			c.setState(StateConnected)
		case webrtc.PeerConnectionStateFailed:
			c.setState(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			c.setState(StateEnded)
		}
	})

	if cfg.SetupPeer != nil {
		if err := cfg.SetupPeer(pc); err != nil {
			_ = pc.Close()
			// Media acquisition failed before any signaling happened; tell
			// the relay anyway in case a previous attempt left state behind.
			rejectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Reject(rejectCtx, self, peer)
			return nil, MediaFailure(err)
		}
	}

	return c, nil
}

// Dial starts a call to peer: post an offer, wait for the answer, then let
// ICE take over. It returns once the answer has been applied (or the attempt
// failed); the connection itself completes asynchronously and is observable
// via OnStateChange.
func Dial(ctx context.Context, client *Client, api *webrtc.API, self, peer string, cfg Config) (*Call, error) {
	c, err := newCall(client, api, self, peer, cfg)
	if err != nil {
		return nil, err
	}
	c.setState(StateConnecting)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := client.SendOffer(ctx, self, peer, signal.SDPFromPion(offer)); err != nil {
		c.abort(ctx)
		return nil, err
	}

	answer, err := c.awaitAnswer(ctx)
	if err != nil {
		c.abort(ctx)
		return nil, err
	}

	remote, err := answer.ToPion()
	if err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("invalid answer from relay: %w", err)
	}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	c.startCandidatePump()
	return c, nil
}

// awaitAnswer polls the relay until the callee answers or the attempt budget
// is exhausted. The loop is an explicit ticker-driven task so cancellation
// (hangup, navigation) is deterministic.
func (c *Call) awaitAnswer(ctx context.Context) (signal.SessionDescription, error) {
	ticker := time.NewTicker(c.cfg.pollInterval())
	defer ticker.Stop()

	for attempt := 0; attempt < c.cfg.answerPollAttempts(); attempt++ {
		answer, err := c.client.FetchAnswer(ctx, c.peer, c.self)
		if err != nil {
			c.log.Debug("answer poll failed", "attempt", attempt, "err", err)
		} else if answer != nil {
			return *answer, nil
		}

		select {
		case <-ctx.Done():
			return signal.SessionDescription{}, ctx.Err()
		case <-ticker.C:
		}
	}
	return signal.SessionDescription{}, ErrNotPickedUp
}

// Answer picks up a pending call from peer. ErrNoPendingOffer is returned
// when the relay holds no offer for the pair (the caller may have hung up
// already).
func Answer(ctx context.Context, client *Client, api *webrtc.API, self, peer string, cfg Config) (*Call, error) {
	offer, err := client.FetchOffer(ctx, peer, self)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrNoPendingOffer
	}

	c, err := newCall(client, api, self, peer, cfg)
	if err != nil {
		return nil, err
	}
	c.setState(StateConnecting)

	remote, err := offer.ToPion()
	if err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("invalid offer from relay: %w", err)
	}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	// Apply whatever the caller trickled before we picked up; the pump keeps
	// applying later arrivals.
	if cands, err := c.client.FetchCandidates(ctx, c.peer, c.self); err == nil {
		c.applyCandidates(cands, 0)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.abort(ctx)
		return nil, fmt.Errorf("set local description: %w", err)
	}
	if err := client.SendAnswer(ctx, self, peer, signal.SDPFromPion(answer)); err != nil {
		c.abort(ctx)
		return nil, err
	}

	c.startCandidatePump()
	return c, nil
}

// Decline rejects a pending call from peer without acquiring media or
// constructing a PeerConnection.
func Decline(ctx context.Context, client *Client, self, peer string) error {
	return client.Reject(ctx, self, peer)
}

// startCandidatePump polls the counterpart's candidates until the call ends.
// Candidates are append-only at the relay, so the pump tracks how many it
// has applied and only feeds the tail to the PeerConnection.
func (c *Call) startCandidatePump() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.pumpCancel = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.pollInterval())
		defer ticker.Stop()

		applied := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			switch c.State() {
			case StateEnded, StateFailed:
				return
			}

			cands, err := c.client.FetchCandidates(ctx, c.peer, c.self)
			if err != nil {
				continue
			}
			applied += c.applyCandidates(cands, applied)
		}
	}()
}

func (c *Call) applyCandidates(cands []signal.Candidate, skip int) int {
	appliedNow := 0
	for i := skip; i < len(cands); i++ {
		if cands[i].Candidate == "" {
			appliedNow++
			continue
		}
		if err := c.pc.AddICECandidate(cands[i].ToPion()); err != nil {
			c.log.Warn("failed to apply ice candidate", "peer", c.peer, "err", err)
		}
		appliedNow++
	}
	return appliedNow
}

// Hangup ends the call and notifies the relay. It is safe to call from any
// number of triggers (UI action, shutdown, defer); the relay is told exactly
// once, and a failed notification never blocks local cleanup.
func (c *Call) Hangup(ctx context.Context) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		cancel := c.pumpCancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if err := c.client.EndCall(ctx, c.self, c.peer); err != nil {
			c.log.Warn("failed to notify relay of hangup", "peer", c.peer, "err", err)
		}
		_ = c.pc.Close()
		c.setState(StateEnded)
	})
}

// abort tears down a call attempt that never completed negotiation: reject
// cleans up relay state and the attempt resolves to failed.
func (c *Call) abort(ctx context.Context) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		cancel := c.pumpCancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if err := c.client.Reject(ctx, c.self, c.peer); err != nil {
			c.log.Warn("failed to notify relay of aborted call", "peer", c.peer, "err", err)
		}
		_ = c.pc.Close()
		c.setState(StateFailed)
	})
}

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerConnection exposes the underlying pion connection for track and data
// channel handling.
func (c *Call) PeerConnection() *webrtc.PeerConnection {
	return c.pc
}

func (c *Call) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateEnded || c.state == StateFailed {
		// Ended and failed are terminal; a late close event from the
		// transport must not resurrect the state machine.
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
