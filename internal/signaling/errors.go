package signaling

import (
	"errors"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/frame"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/relay"
)

var (
	// ErrUnsupportedMessage is returned for text messages; the relay only
	// carries binary frames.
	ErrUnsupportedMessage = errors.New("unsupported websocket message type")
	ErrMessageTooLarge    = errors.New("websocket message too large")
	ErrIdleTimeout        = errors.New("websocket idle timeout")
)

// closeStatus maps the reason a connection closed to the close frame sent to
// the client.
func closeStatus(cause error) (code int, reason string) {
	switch {
	case cause == nil, errors.Is(cause, relay.ErrChannelClosed):
		return websocket.CloseNormalClosure, ""
	case errors.Is(cause, ErrIdleTimeout):
		return websocket.CloseNormalClosure, "idle timeout"
	case errors.Is(cause, frame.ErrTooShort),
		errors.Is(cause, frame.ErrTruncated),
		errors.Is(cause, frame.ErrIDOverflow):
		return websocket.CloseProtocolError, "malformed frame"
	case errors.Is(cause, ErrUnsupportedMessage):
		return websocket.CloseUnsupportedData, "binary messages only"
	case errors.Is(cause, ErrMessageTooLarge):
		return websocket.CloseMessageTooBig, "message too large"
	case errors.Is(cause, registry.ErrDuplicateClient):
		return websocket.ClosePolicyViolation, "duplicate client id"
	case errors.Is(cause, relay.ErrRateLimited):
		return websocket.ClosePolicyViolation, "rate limit exceeded"
	case errors.Is(cause, relay.ErrQueueFull):
		return websocket.CloseTryAgainLater, "send queue overflow"
	case errors.Is(cause, relay.ErrTooManyConnections):
		return websocket.CloseTryAgainLater, "too many connections"
	case errors.Is(cause, relay.ErrShutdown):
		return websocket.CloseGoingAway, "server shutting down"
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}
