package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/registry"
)

// Channel is a bidirectional binary message transport for one connection.
//
// ReadMessage returns a buffer owned by the caller and ErrChannelClosed (or a
// wrapped transport error) once the peer goes away. Close must unblock a
// pending ReadMessage and be safe to call more than once.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	Close(cause error) error
}

// Engine runs the relay state machine for every served connection and owns
// the shared registry.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

func NewEngine(cfg Config, reg *registry.Registry, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if reg == nil {
		reg = registry.New()
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:      cfg.WithDefaults(),
		registry: reg,
		metrics:  m,
		log:      logger,
		conns:    make(map[*conn]struct{}),
	}
}

func (e *Engine) Registry() *registry.Registry { return e.registry }

func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

func (e *Engine) ActiveConnections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Serve runs one connection until it closes and returns the reason. A normal
// close by the peer returns nil. Cancelling ctx closes the connection with
// ErrShutdown.
func (e *Engine) Serve(ctx context.Context, ch Channel) error {
	c, err := e.track(ch)
	if err != nil {
		_ = ch.Close(err)
		return err
	}
	defer e.untrack(c)
	return c.run(ctx)
}

func (e *Engine) track(ch Channel) (*conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrShutdown
	}
	if e.cfg.MaxConnections > 0 && len(e.conns) >= e.cfg.MaxConnections {
		e.metrics.Inc(metrics.TooManyConnections)
		return nil, ErrTooManyConnections
	}
	c := newConn(e, ch)
	e.conns[c] = struct{}{}
	e.metrics.Inc(metrics.ConnectionsAccepted)
	return c, nil
}

func (e *Engine) untrack(c *conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
	e.metrics.Inc(metrics.ConnectionsClosed)
}

// Close stops accepting connections and closes every active one with
// ErrShutdown. It does not wait for Serve calls to return.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.close(ErrShutdown)
	}
	return nil
}
