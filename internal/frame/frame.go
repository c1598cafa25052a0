package frame

import (
	"errors"
	"fmt"
)

const (
	// MinLen is the smallest buffer that can hold a frame: header, sender_len
	// and target_len with both ids zero-length.
	MinLen = 3

	// MaxIDBytes is the widest id field whose value always fits in a uint64.
	MaxIDBytes = 8
)

var (
	ErrTooShort   = errors.New("frame: too short")
	ErrTruncated  = errors.New("frame: truncated")
	ErrIDOverflow = errors.New("frame: id does not fit in 64 bits")
)

// Frame is a decoded relay frame.
//
// Layout (ids are unsigned little-endian):
//
//	header(1) | sender_len(1) | sender(sender_len) | target_len(1) | target(target_len) | payload
//
// On the first frame of a connection Target is a room id; on every later frame
// it is the id of the peer the frame is addressed to.
type Frame struct {
	Header  byte
	Sender  uint64
	Target  uint64
	Payload []byte
}

// Decode parses b. Payload aliases b; the relay forwards the original buffer
// and never re-encodes a decoded frame.
func Decode(b []byte) (Frame, error) {
	if len(b) < MinLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}

	pos := 1
	sender, pos, err := readID(b, pos, "sender")
	if err != nil {
		return Frame{}, err
	}
	target, pos, err := readID(b, pos, "target")
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Header:  b[0],
		Sender:  sender,
		Target:  target,
		Payload: b[pos:],
	}, nil
}

// readID reads a length-prefixed little-endian id starting at b[pos].
func readID(b []byte, pos int, field string) (uint64, int, error) {
	if pos >= len(b) {
		return 0, pos, fmt.Errorf("%w: missing %s length", ErrTruncated, field)
	}
	n := int(b[pos])
	pos++
	if n > len(b)-pos {
		return 0, pos, fmt.Errorf("%w: %s length %d exceeds remaining %d bytes", ErrTruncated, field, n, len(b)-pos)
	}
	raw := b[pos : pos+n]

	// Bytes beyond the eighth are accepted only when they do not change the
	// value.
	for i := MaxIDBytes; i < len(raw); i++ {
		if raw[i] != 0 {
			return 0, pos, fmt.Errorf("%w: %s is %d bytes wide", ErrIDOverflow, field, n)
		}
	}

	var v uint64
	for i := min(len(raw), MaxIDBytes) - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v, pos + n, nil
}

// Append encodes f onto dst using the shortest id fields (zero encodes as an
// empty field).
func Append(dst []byte, f Frame) []byte {
	dst = append(dst, f.Header)
	dst = appendID(dst, f.Sender)
	dst = appendID(dst, f.Target)
	return append(dst, f.Payload...)
}

// Encode is Append into a new buffer.
func Encode(f Frame) []byte {
	return Append(make([]byte, 0, MinLen+2*MaxIDBytes+len(f.Payload)), f)
}

// AppendWidth is like Append but writes both ids with exactly width bytes.
// It panics if width is negative or an id does not fit.
func AppendWidth(dst []byte, f Frame, senderWidth, targetWidth int) []byte {
	dst = append(dst, f.Header)
	dst = appendIDWidth(dst, f.Sender, senderWidth)
	dst = appendIDWidth(dst, f.Target, targetWidth)
	return append(dst, f.Payload...)
}

func appendID(dst []byte, v uint64) []byte {
	return appendIDWidth(dst, v, idLen(v))
}

func appendIDWidth(dst []byte, v uint64, width int) []byte {
	if width < 0 || width > 255 {
		panic(fmt.Sprintf("frame: invalid id width %d", width))
	}
	if width < MaxIDBytes && v>>(8*width) != 0 {
		panic(fmt.Sprintf("frame: id %d does not fit in %d bytes", v, width))
	}
	dst = append(dst, byte(width))
	for i := 0; i < width; i++ {
		if i < MaxIDBytes {
			dst = append(dst, byte(v>>(8*i)))
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}

func idLen(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 8
	}
	return n
}
