package callclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tradepost/call-relay/internal/signal"
)

func newTestAPI(t *testing.T) *webrtc.API {
	t.Helper()

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
}

func withDataChannel(pc *webrtc.PeerConnection) error {
	_, err := pc.CreateDataChannel("test", nil)
	return err
}

func TestDial_GivesUpWhenNeverAnswered(t *testing.T) {
	ts, store := newTestRelay(t)

	alice := New(ts.URL, Credentials{UserID: "alice"})
	_, err := Dial(context.Background(), alice, newTestAPI(t), "alice", "bob", Config{
		AnswerPollAttempts: 3,
		PollInterval:       5 * time.Millisecond,
		SetupPeer:          withDataChannel,
	})
	if !errors.Is(err, ErrNotPickedUp) {
		t.Fatalf("err = %v, want ErrNotPickedUp", err)
	}

	// The aborted attempt cleans its relay state up, so bob's phone stops
	// showing a pending call.
	if _, ok := store.Get(signal.CallKey("alice", "bob")); ok {
		t.Fatalf("relay record survived abandoned call")
	}
}

func TestDial_CancelledByCaller(t *testing.T) {
	ts, _ := newTestRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	alice := New(ts.URL, Credentials{UserID: "alice"})
	_, err := Dial(ctx, alice, newTestAPI(t), "alice", "bob", Config{
		AnswerPollAttempts: 1000,
		PollInterval:       5 * time.Millisecond,
		SetupPeer:          withDataChannel,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAnswer_NoPendingOffer(t *testing.T) {
	ts, _ := newTestRelay(t)

	bob := New(ts.URL, Credentials{UserID: "bob"})
	_, err := Answer(context.Background(), bob, newTestAPI(t), "bob", "alice", Config{
		SetupPeer: withDataChannel,
	})
	if !errors.Is(err, ErrNoPendingOffer) {
		t.Fatalf("err = %v, want ErrNoPendingOffer", err)
	}
}

func TestDial_MediaFailureAbortsBeforeSignaling(t *testing.T) {
	ts, store := newTestRelay(t)

	alice := New(ts.URL, Credentials{UserID: "alice"})
	_, err := Dial(context.Background(), alice, newTestAPI(t), "alice", "bob", Config{
		SetupPeer: func(*webrtc.PeerConnection) error {
			return errors.New("camera device not found")
		},
	})

	var me *MediaError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MediaError", err)
	}
	if me.Kind != MediaErrNoDevice {
		t.Fatalf("kind = %q, want %q", me.Kind, MediaErrNoDevice)
	}
	if _, ok := store.Get(signal.CallKey("alice", "bob")); ok {
		t.Fatalf("offer reached relay despite media failure")
	}
}

// TestCall_EndToEnd drives a full call through the relay: offer, answer,
// trickle, connect, hangup.
func TestCall_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real ICE connectivity test in -short mode")
	}

	ts, store := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice := New(ts.URL, Credentials{UserID: "alice"})
	bob := New(ts.URL, Credentials{UserID: "bob"})

	aliceStates := make(chan State, 8)
	aliceAPI := newTestAPI(t)
	dialDone := make(chan struct{})
	var dialCall *Call
	var dialErr error

	go func() {
		defer close(dialDone)
		dialCall, dialErr = Dial(ctx, alice, aliceAPI, "alice", "bob", Config{
			PollInterval: 20 * time.Millisecond,
			SetupPeer:    withDataChannel,
			OnStateChange: func(s State) {
				select {
				case aliceStates <- s:
				default:
				}
			},
		})
	}()

	// Wait for alice's offer to land at the relay, then pick up as bob.
	waitFor(t, 5*time.Second, func() bool {
		rec, ok := store.Get(signal.CallKey("alice", "bob"))
		return ok && rec.Offer != nil
	})

	bobCall, err := Answer(ctx, bob, newTestAPI(t), "bob", "alice", Config{
		PollInterval: 20 * time.Millisecond,
		SetupPeer:    withDataChannel,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	select {
	case <-dialDone:
	case <-ctx.Done():
		t.Fatalf("dial did not return: %v", ctx.Err())
	}
	if dialErr != nil {
		t.Fatalf("dial: %v", dialErr)
	}

	waitFor(t, 20*time.Second, func() bool {
		return dialCall.State() == StateConnected && bobCall.State() == StateConnected
	})

	// Caller hangs up; the record is gone and both sides settle on ended.
	dialCall.Hangup(ctx)
	if dialCall.State() != StateEnded {
		t.Fatalf("caller state = %q after hangup", dialCall.State())
	}
	if _, ok := store.Get(signal.CallKey("alice", "bob")); ok {
		t.Fatalf("relay record survived hangup")
	}

	// Hanging up again is harmless.
	dialCall.Hangup(ctx)
	bobCall.Hangup(ctx)
	if bobCall.State() != StateEnded {
		t.Fatalf("callee state = %q after hangup", bobCall.State())
	}
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", within)
}
