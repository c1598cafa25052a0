// Package peer is a Go client for the signaling relay.
//
// Client speaks the relay's binary frame protocol over WebSocket. Negotiator
// uses a Client to bootstrap a WebRTC DataChannel with every other member of
// the room: offers, answers and ICE candidates travel as relay frames, and
// once the DataChannel opens the relay is no longer involved.
package peer
