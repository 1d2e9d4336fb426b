// Callctl is a command line client for a call-relay server.
//
// It drives the relay's /signal surface the way a browser client would:
// `callctl call <peer>` dials a peer, `callctl answer <peer>` picks up a
// pending call, and `callctl watch` waits for incoming calls. Media is a
// WebRTC data channel; the tool exists to exercise and debug relays, not to
// carry audio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/tradepost/call-relay/internal/callclient"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	relayURL := flag.String("relay", "http://127.0.0.1:8080", "Base URL of the call-relay server")
	user := flag.String("user", "", "Local user ID (sent as X-User-ID for none/api_key relays)")
	token := flag.String("token", "", "JWT bearer token (AUTH_MODE=jwt relays)")
	apiKey := flag.String("api-key", "", "Shared API key (AUTH_MODE=api_key relays)")
	flag.Parse()

	pterm.Info.Println(fmt.Sprintf("callctl v%s", version))
	pterm.Println()

	if *user == "" && *token == "" {
		pterm.Error.Println("either -user or -token is required")
		os.Exit(2)
	}

	client := callclient.New(*relayURL, callclient.Credentials{
		Token:  *token,
		APIKey: *apiKey,
		UserID: *user,
	})

	args := flag.Args()
	if len(args) == 0 {
		pterm.Error.Println("usage: callctl [flags] call <peer> | answer <peer> | reject <peer> | watch")
		os.Exit(2)
	}

	switch args[0] {
	case "call":
		if len(args) != 2 {
			pterm.Error.Println("usage: callctl call <peer>")
			os.Exit(2)
		}
		runCall(ctx, client, *user, args[1])

	case "answer":
		if len(args) != 2 {
			pterm.Error.Println("usage: callctl answer <peer>")
			os.Exit(2)
		}
		runAnswer(ctx, client, *user, args[1])

	case "reject":
		if len(args) != 2 {
			pterm.Error.Println("usage: callctl reject <peer>")
			os.Exit(2)
		}
		if err := callclient.Decline(ctx, client, *user, args[1]); err != nil {
			pterm.Error.Println(fmt.Sprintf("reject failed: %v", err))
			os.Exit(1)
		}
		pterm.Success.Println(fmt.Sprintf("rejected pending call from %s", args[1]))

	case "watch":
		runWatch(ctx, client, *user, args[1:])

	default:
		pterm.Error.Println(fmt.Sprintf("unknown command %q", args[0]))
		os.Exit(2)
	}
}

func callConfig() callclient.Config {
	return callclient.Config{
		SetupPeer: func(pc *webrtc.PeerConnection) error {
			// A data channel stands in for media so the offer carries a
			// usable section; OnDataChannel on the far side mirrors it.
			_, err := pc.CreateDataChannel("callctl", nil)
			return err
		},
		OnStateChange: func(s callclient.State) {
			switch s {
			case callclient.StateConnected:
				pterm.Success.Println("call connected")
			case callclient.StateEnded:
				pterm.Info.Println("call ended")
			case callclient.StateFailed:
				pterm.Warning.Println("call failed")
			}
		},
	}
}

func runCall(ctx context.Context, client *callclient.Client, self, peer string) {
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("calling %s...", peer))

	call, err := callclient.Dial(ctx, client, webrtc.NewAPI(), self, peer, callConfig())
	if err != nil {
		spinner.Fail(fmt.Sprintf("call to %s failed: %v", peer, err))
		os.Exit(1)
	}
	spinner.Success(fmt.Sprintf("%s picked up", peer))

	waitForEnd(ctx, call)
}

func runAnswer(ctx context.Context, client *callclient.Client, self, peer string) {
	call, err := callclient.Answer(ctx, client, webrtc.NewAPI(), self, peer, callConfig())
	if err != nil {
		pterm.Error.Println(fmt.Sprintf("answer failed: %v", err))
		os.Exit(1)
	}

	waitForEnd(ctx, call)
}

// waitForEnd holds the call open until the peer hangs up or the user
// interrupts; Ctrl+C hangs up cleanly before exiting.
func waitForEnd(ctx context.Context, call *callclient.Call) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hangupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			call.Hangup(hangupCtx)
			cancel()
			return
		case <-ticker.C:
			switch call.State() {
			case callclient.StateEnded, callclient.StateFailed:
				return
			}
		}
	}
}

func runWatch(ctx context.Context, client *callclient.Client, self string, contacts []string) {
	pterm.Info.Println("waiting for incoming calls (Ctrl+C to stop)")

	notifier := callclient.NewNotifier(client, self, callclient.NotifierConfig{
		Contacts: contacts,
	}, func(in callclient.IncomingCall) {
		pterm.Success.Println(fmt.Sprintf("incoming call from %s, run: callctl answer %s", in.FromUserID, in.FromUserID))
	}, func(fromUserID string) {
		pterm.Info.Println(fmt.Sprintf("call from %s ended", fromUserID))
	})

	notifier.Run(ctx)
}
