package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrRateLimited        = errors.New("message rate limit exceeded")
	// ErrQueueFull is returned by a connection's outbound queue when the
	// disconnect overflow policy is in effect and the frame does not fit.
	ErrQueueFull     = errors.New("send queue full")
	ErrFrameTooLarge = errors.New("frame exceeds send queue capacity")
	ErrQueueClosed   = errors.New("send queue closed")
	ErrShutdown      = errors.New("relay shutting down")
	// ErrChannelClosed is returned by Channel.ReadMessage when the peer closed
	// the connection normally.
	ErrChannelClosed = errors.New("channel closed")
)
