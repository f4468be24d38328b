// Package relay implements the bidirectional, backpressured copy pumps that
// move bytes between a plain socket (public or local) and the framed
// control channel. A pump is one direction of one stream: read a chunk,
// forward it as a DATA frame, and only then issue the next read — which is
// how TCP backpressure on either endpoint propagates across the mux.
package relay

import (
	"io"
	"sync"
)

// DefaultChunkSize is the read-chunk size used when a caller does not need
// a non-default value. Frames built from a chunk never exceed proto.MaxPayload.
const DefaultChunkSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultChunkSize)
		return &b
	},
}

// Send forwards a chunk read from one side of a stream to the other,
// addressed by streamID.
type Send func(streamID uint32, data []byte) error

// Pump reads from src in chunkSize pieces, forwarding each non-empty read
// via send, and blocks on send before issuing the next read. It returns nil
// on a clean EOF from src, or the first error encountered from either Read
// or send. The caller is responsible for the EOF/error ⇒ CLOSE(id) +
// teardown step; Pump only pumps.
func Pump(streamID uint32, src io.Reader, send Send, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var buf []byte
	pooled := chunkSize == DefaultChunkSize
	if pooled {
		bp := bufPool.Get().(*[]byte)
		defer bufPool.Put(bp)
		buf = *bp
	} else {
		buf = make([]byte, chunkSize)
	}

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			// copy out of the pooled buffer before handing it to send,
			// since send may retain or hand the slice off asynchronously
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if serr := send(streamID, chunk); serr != nil {
				return serr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
