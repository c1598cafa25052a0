// Command peer-go is a headless peer used by end-to-end tests. It joins a
// relay room, negotiates a DataChannel with every other member and reports
// progress on stdout:
//
//	CONNECTED <peer>
//	RECV <peer> <text>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/peer"
)

func main() {
	baseURL := strings.TrimRight(envOrDefault("RELAY_URL", "http://127.0.0.1:8765"), "/")
	id := envUintOrDefault("PEER_ID", 0)
	room := envUintOrDefault("ROOM_ID", 1)
	sendText := os.Getenv("SEND_TEXT")

	if id == 0 {
		fmt.Fprintln(os.Stderr, "PEER_ID is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	iceServers, err := fetchICEServers(ctx, baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch ice servers: %v\n", err)
		os.Exit(1)
	}

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	client, err := peer.Dial(ctx, wsURL, id, room, peer.DialOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	var stdoutMu sync.Mutex
	printf := func(format string, args ...any) {
		stdoutMu.Lock()
		defer stdoutMu.Unlock()
		fmt.Printf(format, args...)
	}

	n, err := peer.NewNegotiator(peer.NegotiatorConfig{
		Client:     client,
		ICEServers: iceServers,
		OnOpen: func(peerID uint64, dc *webrtc.DataChannel) {
			printf("CONNECTED %d\n", peerID)
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				printf("RECV %d %s\n", peerID, msg.Data)
			})
			if sendText != "" {
				_ = dc.SendText(sendText)
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "negotiator: %v\n", err)
		os.Exit(1)
	}
	defer n.Close()

	printf("READY %d\n", id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func fetchICEServers(ctx context.Context, baseURL string) ([]webrtc.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/webrtc/ice", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.ICEServers, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUintOrDefault(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return fallback
}
