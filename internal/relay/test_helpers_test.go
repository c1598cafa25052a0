package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/frame"
)

// fakeChannel is an in-memory Channel. Frames written by the engine are
// delivered on out; the test plays the remote client through push and hangup.
type fakeChannel struct {
	in     chan []byte
	out    chan []byte
	eof    chan struct{}
	closed chan struct{}

	// writeGate, when set, blocks WriteMessage until it is closed.
	writeGate chan struct{}

	hangupOnce sync.Once
	closeOnce  sync.Once

	mu    sync.Mutex
	cause error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		eof:    make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.eof:
		return nil, ErrChannelClosed
	case <-c.closed:
		return nil, errors.New("fake channel: closed locally")
	}
}

func (c *fakeChannel) WriteMessage(msg []byte) error {
	if c.writeGate != nil {
		select {
		case <-c.writeGate:
		case <-c.closed:
			return errors.New("fake channel: closed locally")
		}
	}
	select {
	case <-c.closed:
		return errors.New("fake channel: closed locally")
	default:
	}
	cp := append([]byte(nil), msg...)
	select {
	case c.out <- cp:
		return nil
	case <-c.closed:
		return errors.New("fake channel: closed locally")
	}
}

func (c *fakeChannel) Close(cause error) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeChannel) push(b []byte) { c.in <- b }

func (c *fakeChannel) hangup() { c.hangupOnce.Do(func() { close(c.eof) }) }

func (c *fakeChannel) closeCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *fakeChannel) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case <-c.closed:
		return c.closeCause()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
		return nil
	}
}

func (c *fakeChannel) expectFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func (c *fakeChannel) expectNoFrame(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-c.out:
		t.Fatalf("unexpected frame %x", msg)
	case <-time.After(wait):
	}
}

// serve starts e.Serve for ch and returns a channel yielding its result.
func serve(e *Engine, ch Channel) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Serve(context.Background(), ch) }()
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func joinFrame(client, room uint64) []byte {
	return frame.Encode(frame.Frame{Header: 0x01, Sender: client, Target: room})
}

func relayFrame(from, to uint64, payload string) []byte {
	return frame.Encode(frame.Frame{Header: 0x02, Sender: from, Target: to, Payload: []byte(payload)})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
