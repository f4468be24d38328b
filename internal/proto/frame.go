// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package proto implements the binary framing and typed message codec for
// the tunnel control channel.
package proto

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Message types. HELLO and WELCOME always carry StreamID 0; OPEN, DATA and
// CLOSE carry the stream id of the public-side connection they concern.
const (
	HELLO   byte = 1
	WELCOME byte = 2
	OPEN    byte = 3
	DATA    byte = 4
	CLOSE   byte = 5
)

// MaxPayload bounds a single frame's payload. Exceeding it is a fatal
// protocol error on both the encode and decode paths.
const MaxPayload = 1 << 20 // 1 MiB

// HeaderSize is the fixed length of a frame header: type(1) + stream_id(4) + length(4).
const HeaderSize = 9

// ErrPayloadTooLarge is returned by Encode when payload exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("proto: payload exceeds MaxPayload")

// ErrProtocol marks an unrecoverable framing violation, e.g. an advertised
// length greater than MaxPayload seen on the wire.
var ErrProtocol = errors.New("proto: protocol violation")

// Frame is one decoded control-channel message.
type Frame struct {
	Type     byte
	StreamID uint32
	Payload  []byte
}

// Encode produces the wire representation of (typ, streamID, payload):
// exactly HeaderSize+len(payload) bytes, big-endian throughout.
func Encode(typ byte, streamID uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "len=%d", len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:5], streamID)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decoder accumulates bytes fed from the wire and emits complete frames.
// It never raises on incomplete input; a partial header or partial payload
// simply remains buffered until Feed supplies the rest. Use a fresh Decoder
// per control connection.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends data to the internal buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Decode returns the next complete frame, or ok=false if more bytes are
// needed. It returns an error only on a protocol violation (an advertised
// payload length greater than MaxPayload); bytes are consumed from the
// internal buffer only when a full frame is emitted.
func (d *Decoder) Decode() (frame Frame, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return Frame{}, false, nil
	}

	typ := d.buf[0]
	streamID := binary.BigEndian.Uint32(d.buf[1:5])
	length := binary.BigEndian.Uint32(d.buf[5:9])

	if length > MaxPayload {
		return Frame{}, false, errors.Wrapf(ErrProtocol, "advertised length %d exceeds MaxPayload", length)
	}

	total := HeaderSize + int(length)
	if len(d.buf) < total {
		return Frame{}, false, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[HeaderSize:total])

	// Drop the consumed prefix. Copying into a fresh slice (rather than
	// re-slicing in place) keeps a long-lived decoder from pinning the
	// entire history behind a growing backing array.
	remaining := len(d.buf) - total
	rest := make([]byte, remaining)
	copy(rest, d.buf[total:])
	d.buf = rest

	return Frame{Type: typ, StreamID: streamID, Payload: payload}, true, nil
}

// Reset discards any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}
