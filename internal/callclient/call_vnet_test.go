package callclient

import (
	"context"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/tradepost/call-relay/internal/signal"
)

func newVNetAPI(t *testing.T, n *vnet.Net) *webrtc.API {
	t.Helper()

	se := webrtc.SettingEngine{}
	se.SetNet(n)
	se.SetICETimeouts(5*time.Second, 10*time.Second, 500*time.Millisecond)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}
	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)
}

// TestCall_ConnectsOverVirtualNetwork exchanges SDP and candidates through
// the relay while media flows over an isolated virtual network, so the test
// never depends on the host's interfaces.
func TestCall_ConnectsOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	ts, store := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice := New(ts.URL, Credentials{UserID: "alice"})
	bob := New(ts.URL, Credentials{UserID: "bob"})

	aliceAPI := newVNetAPI(t, netA)
	dialDone := make(chan struct{})
	var dialCall *Call
	var dialErr error
	go func() {
		defer close(dialDone)
		dialCall, dialErr = Dial(ctx, alice, aliceAPI, "alice", "bob", Config{
			PollInterval: 20 * time.Millisecond,
			SetupPeer:    withDataChannel,
		})
	}()

	waitFor(t, 5*time.Second, func() bool {
		rec, ok := store.Get(signal.CallKey("alice", "bob"))
		return ok && rec.Offer != nil
	})

	bobCall, err := Answer(ctx, bob, newVNetAPI(t, netB), "bob", "alice", Config{
		PollInterval: 20 * time.Millisecond,
		SetupPeer:    withDataChannel,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	t.Cleanup(func() { bobCall.Hangup(context.Background()) })

	select {
	case <-dialDone:
	case <-ctx.Done():
		t.Fatalf("dial did not return: %v", ctx.Err())
	}
	if dialErr != nil {
		t.Fatalf("dial: %v", dialErr)
	}
	t.Cleanup(func() { dialCall.Hangup(context.Background()) })

	waitFor(t, 20*time.Second, func() bool {
		return dialCall.State() == StateConnected && bobCall.State() == StateConnected
	})
}
