// Package signaling serves the relay over WebSocket.
//
// Every upgraded connection is adapted to a relay.Channel and handed to the
// relay engine. The adapter owns the WebSocket concerns: origin checks, the
// read limit, keepalive pings, write deadlines and mapping close causes to
// close codes.
package signaling
