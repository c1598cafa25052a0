package signaling

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/relay"
)

type wsChannelConfig struct {
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	Metrics         *metrics.Metrics
}

// wsChannel adapts a gorilla WebSocket connection to relay.Channel.
//
// Any inbound message or pong pushes the read deadline out by IdleTimeout.
type wsChannel struct {
	conn *websocket.Conn
	cfg  wsChannelConfig

	// Serializes data writes. Control frames go through WriteControl, which
	// gorilla allows concurrently with WriteMessage.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

var _ relay.Channel = (*wsChannel)(nil)

func newWSChannel(conn *websocket.Conn, cfg wsChannelConfig) *wsChannel {
	ch := &wsChannel{
		conn: conn,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	ch.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		ch.extendReadDeadline()
		return nil
	})
	if cfg.PingInterval > 0 {
		go ch.pingLoop()
	}
	return ch
}

func (ch *wsChannel) extendReadDeadline() {
	if ch.cfg.IdleTimeout <= 0 {
		return
	}
	_ = ch.conn.SetReadDeadline(time.Now().Add(ch.cfg.IdleTimeout))
}

func (ch *wsChannel) ReadMessage() ([]byte, error) {
	msgType, data, err := ch.conn.ReadMessage()
	if err != nil {
		return nil, ch.readError(err)
	}
	ch.extendReadDeadline()
	if msgType != websocket.BinaryMessage {
		ch.cfg.Metrics.Inc(metrics.UnsupportedMessage)
		return nil, ErrUnsupportedMessage
	}
	return data, nil
}

func (ch *wsChannel) readError(err error) error {
	select {
	case <-ch.done:
		return relay.ErrChannelClosed
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: %v", relay.ErrChannelClosed, err)
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrMessageTooLarge
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrIdleTimeout
	}
	return fmt.Errorf("read: %w", err)
}

func (ch *wsChannel) WriteMessage(msg []byte) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if ch.cfg.WriteTimeout > 0 {
		_ = ch.conn.SetWriteDeadline(time.Now().Add(ch.cfg.WriteTimeout))
	}
	return ch.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (ch *wsChannel) pingLoop() {
	ticker := time.NewTicker(ch.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, ch.controlDeadline()); err != nil {
				return
			}
		}
	}
}

func (ch *wsChannel) controlDeadline() time.Time {
	wait := ch.cfg.WriteTimeout
	if wait <= 0 {
		wait = time.Second
	}
	return time.Now().Add(wait)
}

// Close sends a close frame describing cause and tears down the connection.
// Only the first call has an effect.
func (ch *wsChannel) Close(cause error) error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		// gorilla answers a peer-initiated close frame itself.
		if !errors.Is(cause, relay.ErrChannelClosed) {
			code, reason := closeStatus(cause)
			_ = ch.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), ch.controlDeadline())
		}
		err = ch.conn.Close()
	})
	return err
}
