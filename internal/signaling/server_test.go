package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/frame"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/relay"
)

func newTestServer(t *testing.T, cfg Config, relayCfg relay.Config) (*httptest.Server, *Server) {
	t.Helper()
	if cfg.Engine == nil {
		cfg.Engine = relay.NewEngine(relayCfg, nil, nil, nil)
	}
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Engine().Close()
		ts.Close()
	})
	return ts, srv
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, path), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sendFrame(t *testing.T, c *websocket.Conn, f frame.Frame) []byte {
	t.Helper()
	b := frame.Encode(f)
	if err := c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	return b
}

func readBinary(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("msgType=%d, want binary", msgType)
	}
	return data
}

func expectClose(t *testing.T, c *websocket.Conn, code int) *websocket.CloseError {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("read err=%v, want close %d", err, code)
		}
		if closeErr.Code != code {
			t.Fatalf("close code=%d (%q), want %d", closeErr.Code, closeErr.Text, code)
		}
		return closeErr
	}
}

func waitRegistered(t *testing.T, srv *Server, id uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := srv.Engine().Registry().Lookup(id); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client %d never registered", id)
}

func TestWebSocketRelay_JoinBroadcastAndRelay(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())

	a := dial(t, ts, "/ws")
	sendFrame(t, a, frame.Frame{Header: 1, Sender: 10, Target: 1})
	waitRegistered(t, srv, 10)

	b := dial(t, ts, "/")
	joinB := sendFrame(t, b, frame.Frame{Header: 1, Sender: 11, Target: 1})
	if got := readBinary(t, a); string(got) != string(joinB) {
		t.Fatalf("A received % x, want B's join % x", got, joinB)
	}
	waitRegistered(t, srv, 11)

	hello := sendFrame(t, a, frame.Frame{Header: 2, Sender: 10, Target: 11, Payload: []byte("hello")})
	if got := readBinary(t, b); string(got) != string(hello) {
		t.Fatalf("B received % x, want % x", got, hello)
	}

	// Unknown targets are dropped without closing the sender.
	sendFrame(t, a, frame.Frame{Header: 2, Sender: 10, Target: 999, Payload: []byte("lost")})
	reply := sendFrame(t, b, frame.Frame{Header: 2, Sender: 11, Target: 10, Payload: []byte("hi")})
	if got := readBinary(t, a); string(got) != string(reply) {
		t.Fatalf("A received % x, want % x", got, reply)
	}

	if got := srv.Engine().Metrics().Get(metrics.TargetNotFound); got != 1 {
		t.Fatalf("target_not_found=%d, want 1", got)
	}
}

func TestWebSocketRelay_TrailingSlashPath(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())
	c := dial(t, ts, "/ws/")
	sendFrame(t, c, frame.Frame{Header: 1, Sender: 5, Target: 1})
	waitRegistered(t, srv, 5)
}

func TestWebSocketRelay_UpgradePaths(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())

	for i, path := range []string{"/", "/ws", "/ws/", "/ws/room"} {
		id := uint64(100 + i)
		c := dial(t, ts, path)
		sendFrame(t, c, frame.Frame{Header: 1, Sender: id, Target: 9})
		waitRegistered(t, srv, id)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/signal"), nil)
	if err == nil {
		t.Fatalf("dial /signal succeeded, want 404")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial /signal resp=%v, want status %d", resp, http.StatusNotFound)
	}
}

func TestWebSocketRelay_CloseCodes(t *testing.T) {
	cases := []struct {
		name string
		send func(c *websocket.Conn) error
		code int
	}{
		{
			name: "text message",
			send: func(c *websocket.Conn) error { return c.WriteMessage(websocket.TextMessage, []byte("hi")) },
			code: websocket.CloseUnsupportedData,
		},
		{
			name: "too short",
			send: func(c *websocket.Conn) error { return c.WriteMessage(websocket.BinaryMessage, []byte{1, 1}) },
			code: websocket.CloseProtocolError,
		},
		{
			name: "truncated id",
			send: func(c *websocket.Conn) error { return c.WriteMessage(websocket.BinaryMessage, []byte{1, 4, 1}) },
			code: websocket.CloseProtocolError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newTestServer(t, Config{MaxMessageBytes: 1024}, relay.DefaultConfig())
			c := dial(t, ts, "/ws")
			if err := tc.send(c); err != nil {
				t.Fatalf("send: %v", err)
			}
			expectClose(t, c, tc.code)
		})
	}
}

func TestWebSocketRelay_OversizedMessageClosesConnection(t *testing.T) {
	ts, srv := newTestServer(t, Config{MaxMessageBytes: 1024}, relay.DefaultConfig())

	c := dial(t, ts, "/ws")
	big := frame.Encode(frame.Frame{Header: 1, Sender: 10, Target: 1, Payload: make([]byte, 2048)})
	if err := c.WriteMessage(websocket.BinaryMessage, big); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close after oversized message")
	}
	if _, err := srv.Engine().Registry().Lookup(10); err == nil {
		t.Fatalf("oversized registration frame was accepted")
	}
}

func TestWebSocketRelay_DuplicateClientRejected(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())

	a := dial(t, ts, "/ws")
	sendFrame(t, a, frame.Frame{Header: 1, Sender: 10, Target: 1})
	waitRegistered(t, srv, 10)

	dup := dial(t, ts, "/ws")
	sendFrame(t, dup, frame.Frame{Header: 1, Sender: 10, Target: 2})
	closeErr := expectClose(t, dup, websocket.ClosePolicyViolation)
	if closeErr.Text != "duplicate client id" {
		t.Fatalf("close text=%q, want duplicate client id", closeErr.Text)
	}

	// The original registration still routes.
	b := dial(t, ts, "/ws")
	join := sendFrame(t, b, frame.Frame{Header: 1, Sender: 11, Target: 1})
	if got := readBinary(t, a); string(got) != string(join) {
		t.Fatalf("A received % x, want % x", got, join)
	}
}

func TestWebSocketRelay_RateLimitClosesWithPolicyViolation(t *testing.T) {
	relayCfg := relay.DefaultConfig()
	relayCfg.MaxMessagesPerSecond = 1
	relayCfg.MessageBurst = 2
	ts, srv := newTestServer(t, Config{}, relayCfg)

	c := dial(t, ts, "/ws")
	sendFrame(t, c, frame.Frame{Header: 1, Sender: 10, Target: 1})
	// Nothing may be left unread on the server when it closes, or the client
	// can see a reset instead of the close frame.
	for i := 0; i < 2; i++ {
		sendFrame(t, c, frame.Frame{Header: 2, Sender: 10, Target: 99})
	}
	expectClose(t, c, websocket.ClosePolicyViolation)

	if got := srv.Engine().Metrics().Get(metrics.RateLimited); got != 1 {
		t.Fatalf("rate_limited=%d, want 1", got)
	}
}

func TestWebSocketRelay_MaxConnections(t *testing.T) {
	relayCfg := relay.DefaultConfig()
	relayCfg.MaxConnections = 1
	ts, srv := newTestServer(t, Config{}, relayCfg)

	a := dial(t, ts, "/ws")
	sendFrame(t, a, frame.Frame{Header: 1, Sender: 10, Target: 1})
	waitRegistered(t, srv, 10)

	b := dial(t, ts, "/ws")
	expectClose(t, b, websocket.CloseTryAgainLater)
}

func TestWebSocketRelay_EngineCloseSendsGoingAway(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())

	c := dial(t, ts, "/ws")
	sendFrame(t, c, frame.Frame{Header: 1, Sender: 10, Target: 1})
	waitRegistered(t, srv, 10)

	_ = srv.Engine().Close()
	expectClose(t, c, websocket.CloseGoingAway)
}

func TestWebSocketRelay_DisconnectUnregisters(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())

	c := dial(t, ts, "/ws")
	sendFrame(t, c, frame.Frame{Header: 1, Sender: 10, Target: 1})
	waitRegistered(t, srv, 10)

	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rooms, clients := srv.Engine().Registry().Stats(); rooms == 0 && clients == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client 10 still registered after disconnect")
}

func TestWebSocketRelay_OriginPolicy(t *testing.T) {
	policy, err := origin.NewPolicy([]string{"https://app.example.com"})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ts, srv := newTestServer(t, Config{Origin: policy}, relay.DefaultConfig())

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), h)
	if err == nil {
		t.Fatalf("dial with disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}
	if got := srv.Engine().Metrics().Get(metrics.OriginRejected); got != 1 {
		t.Fatalf("origin_rejected=%d, want 1", got)
	}

	h.Set("Origin", "https://APP.example.com:443")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), h)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	_ = c.Close()
}

func TestWebSocketRelay_PlainGETRequiresUpgrade(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, relay.DefaultConfig())

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, srv := newTestServer(t, Config{}, relay.DefaultConfig())

	a := dial(t, ts, "/ws")
	sendFrame(t, a, frame.Frame{Header: 1, Sender: 10, Target: 1})
	b := dial(t, ts, "/ws")
	sendFrame(t, b, frame.Frame{Header: 1, Sender: 11, Target: 2})
	waitRegistered(t, srv, 10)
	waitRegistered(t, srv, 11)

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q", ct)
	}
	var got statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Rooms != 2 || got.Clients != 2 || got.Connections != 2 {
		t.Fatalf("stats=%+v, want rooms=2 clients=2 connections=2", got)
	}
}
