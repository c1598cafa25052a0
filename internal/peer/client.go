package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/frame"
)

// Frame headers used between peers. The relay does not interpret them.
const (
	HeaderJoin      byte = 0x01
	HeaderOffer     byte = 0x02
	HeaderAnswer    byte = 0x03
	HeaderCandidate byte = 0x04
)

const writeWait = 5 * time.Second

var ErrUnexpectedMessage = errors.New("peer: unexpected non-binary message")

type DialOptions struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header is sent with the upgrade request (for example Origin).
	Header http.Header
}

// Client is one registered relay connection. Send is safe for concurrent use;
// Recv must be called from a single goroutine.
type Client struct {
	conn *websocket.Conn
	id   uint64
	room uint64

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the relay at url and registers id in room.
func Dial(ctx context.Context, url string, id, room uint64, opts DialOptions) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{conn: conn, id: id, room: room}
	if err := c.write(frame.Frame{Header: HeaderJoin, Sender: id, Target: room}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("register: %w", err)
	}
	return c, nil
}

func (c *Client) ID() uint64   { return c.id }
func (c *Client) Room() uint64 { return c.room }

// Send relays payload to target.
func (c *Client) Send(target uint64, header byte, payload []byte) error {
	return c.write(frame.Frame{Header: header, Sender: c.id, Target: target, Payload: payload})
}

func (c *Client) write(f frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame.Encode(f))
}

// Recv blocks for the next frame. A join broadcast has Header HeaderJoin,
// Sender set to the newcomer and Target set to the room.
func (c *Client) Recv() (frame.Frame, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return frame.Frame{}, err
	}
	if msgType != websocket.BinaryMessage {
		return frame.Frame{}, ErrUnexpectedMessage
	}
	return frame.Decode(data)
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}
