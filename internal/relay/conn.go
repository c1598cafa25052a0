package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/frame"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/registry"
)

type connState int

const (
	stateConnecting connState = iota
	stateRegistered
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateRegistered:
		return "registered"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int(s))
	}
}

// conn is one served connection. It implements registry.Sink so other
// connections can enqueue frames for it.
type conn struct {
	id      string
	engine  *Engine
	ch      Channel
	queue   *sendQueue
	limiter *ratelimit.TokenBucket
	log     *slog.Logger

	mu       sync.Mutex
	state    connState
	clientID uint64
	room     uint64
	cause    error

	closeOnce sync.Once
}

var _ registry.Sink = (*conn)(nil)

func newConn(e *Engine, ch Channel) *conn {
	id := uuid.NewString()
	c := &conn{
		id:     id,
		engine: e,
		ch:     ch,
		queue:  newSendQueue(e.cfg.SendQueueBytes, e.cfg.OverflowPolicy),
		log:    e.log.With("conn_id", id),
	}
	if e.cfg.MaxMessagesPerSecond > 0 {
		c.limiter = ratelimit.NewTokenBucket(e.cfg.Clock, int64(e.cfg.MessageBurst), int64(e.cfg.MaxMessagesPerSecond))
	}
	m := e.metrics
	c.queue.SetOnDrop(func(n int) {
		m.Add(metrics.QueueDropped, uint64(n))
	})
	return c
}

func (c *conn) run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.close(ErrShutdown) })
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		err := c.readLoop()
		c.close(err)
		return err
	})
	g.Go(func() error {
		err := c.writeLoop()
		if err != nil {
			c.close(err)
		}
		return err
	})
	_ = g.Wait()

	cause := c.closeCause()
	if errors.Is(cause, ErrChannelClosed) {
		return nil
	}
	return cause
}

func (c *conn) readLoop() error {
	for {
		msg, err := c.ch.ReadMessage()
		if err != nil {
			return err
		}
		c.engine.metrics.Inc(metrics.FramesIn)

		if c.limiter != nil && !c.limiter.AllowMessage() {
			c.engine.metrics.Inc(metrics.RateLimited)
			return ErrRateLimited
		}
		if err := c.handle(msg); err != nil {
			return err
		}
	}
}

func (c *conn) writeLoop() error {
	for {
		msg, ok := c.queue.Dequeue()
		if !ok {
			return nil
		}
		if err := c.ch.WriteMessage(msg); err != nil {
			c.engine.metrics.Inc(metrics.WriteError)
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (c *conn) handle(msg []byte) error {
	f, err := frame.Decode(msg)
	if err != nil {
		c.engine.metrics.Inc(metrics.DecodeError)
		return err
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == stateConnecting {
		return c.register(f, msg)
	}
	c.relay(f, msg)
	return nil
}

// register joins the sender to the room named by the frame's target field and
// forwards the raw frame to the members that were already there.
func (c *conn) register(f frame.Frame, msg []byte) error {
	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		return ErrShutdown
	}
	peers, err := c.engine.registry.Join(f.Sender, c, f.Target)
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, registry.ErrDuplicateClient) {
			c.engine.metrics.Inc(metrics.DuplicateClient)
		}
		return err
	}
	c.state = stateRegistered
	c.clientID = f.Sender
	c.room = f.Target
	c.log = c.log.With("client_id", f.Sender, "room_id", f.Target)
	c.mu.Unlock()

	c.engine.metrics.Inc(metrics.ClientsRegistered)
	c.log.Info("client_registered", "peers", len(peers))

	for _, p := range peers {
		if err := p.Send(msg); err == nil {
			c.engine.metrics.Inc(metrics.JoinBroadcasts)
		}
	}
	return nil
}

func (c *conn) relay(f frame.Frame, msg []byte) {
	target, err := c.engine.registry.Lookup(f.Target)
	if err == nil {
		err = target.Send(msg)
	}
	switch {
	case err == nil:
		c.engine.metrics.Inc(metrics.FramesRelayed)
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, ErrQueueClosed):
		c.engine.metrics.Inc(metrics.TargetNotFound)
		c.log.Debug("frame_dropped", "target_id", f.Target, "reason", "target_not_found")
	default:
		c.log.Debug("frame_dropped", "target_id", f.Target, "err", err)
	}
}

// Send enqueues a frame for this connection's writer.
func (c *conn) Send(msg []byte) error {
	err := c.queue.Enqueue(msg)
	if errors.Is(err, ErrQueueFull) {
		c.engine.metrics.Inc(metrics.OverflowDisconnect)
		go c.close(err)
	}
	return err
}

// close moves the connection to the closed state. Only the first cause is
// kept.
func (c *conn) close(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasRegistered := c.state == stateRegistered
		clientID := c.clientID
		c.state = stateClosed
		c.cause = cause
		log := c.log
		c.mu.Unlock()

		if wasRegistered {
			switch err := c.engine.registry.Unregister(clientID); {
			case err == nil:
			case errors.Is(err, registry.ErrNotFound):
				c.engine.metrics.Inc(metrics.UnregisterMissing)
				log.Debug("unregister_missing", "err", err)
			default:
				c.engine.metrics.Inc(metrics.RegistryInconsistent)
				log.Error("registry_inconsistent", "err", err)
			}
		}

		c.queue.Close()
		_ = c.ch.Close(cause)

		switch {
		case cause == nil, errors.Is(cause, ErrChannelClosed), errors.Is(cause, ErrShutdown):
			log.Info("connection_closed", "reason", causeString(cause))
		default:
			log.Warn("connection_closed", "reason", causeString(cause))
		}
	})
}

func (c *conn) closeCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func causeString(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
