// Package frame implements the relay's binary frame codec.
//
// The relay only needs the sender and target ids for routing. Payloads are
// opaque and frames are forwarded byte-for-byte as received.
package frame
