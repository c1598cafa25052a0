// Package relay routes binary frames between connected clients.
//
// The first frame on a connection registers its sender id in the room named by
// the frame's target field and is forwarded unchanged to every client already
// in that room. Every later frame is forwarded unchanged to the client whose id
// is in the target field. Frames for unknown targets are dropped.
//
// The engine is transport-agnostic: it consumes a Channel per connection. The
// WebSocket adapter lives in internal/signaling.
package relay
