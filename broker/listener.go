package broker

import (
	"log"
	"net"
	"sync/atomic"

	"github.com/xtaci/revtun/internal/relay"
)

// servePublicListener runs the accept loop for one session's public port.
// For each accepted connection: assign a stream id, record the stream, emit
// OPEN, then spawn the public→control relay pump. The loop exits when the
// listener is closed by Teardown.
func (b *Broker) servePublicListener(sess *Session) {
	for {
		conn, err := sess.listener.Accept()
		if err != nil {
			// Teardown closed the listener out from under us; this is the
			// expected exit, not an error worth logging loudly.
			return
		}
		b.handleExternalAccept(sess, conn)
	}
}

// handleExternalAccept wires one newly accepted public connection into the
// session's stream table and kicks off its relay pump.
func (b *Broker) handleExternalAccept(sess *Session, conn net.Conn) {
	streamID := sess.NextStreamID()
	stream := sess.AddStream(streamID, conn)
	atomic.AddInt64(&b.Stats.StreamsOpened, 1)

	if err := sess.SendOpen(streamID); err != nil {
		log.Printf("broker: session %s: OPEN(%d) failed: %v", sess.ID, streamID, err)
		sess.RemoveStream(streamID)
		atomic.AddInt64(&b.Stats.StreamsClosed, 1)
		go b.teardownSession(sess)
		return
	}

	if !b.Quiet {
		log.Println("stream opened", sess.ID, streamID, "public:", conn.RemoteAddr())
	}

	go b.runExternalPump(sess, stream)
}

// runExternalPump is the external-side pump: read from the
// public socket, wrap as DATA, write to the control socket. EOF ⇒ CLOSE and
// stream teardown.
func (b *Broker) runExternalPump(sess *Session, stream *Stream) {
	err := relay.Pump(stream.ID, stream.Conn, func(streamID uint32, data []byte) error {
		atomic.AddInt64(&b.Stats.BytesToAgent, int64(len(data)))
		return sess.SendData(streamID, data)
	}, b.ChunkSize)

	if _, stillLive := sess.GetStream(stream.ID); !stillLive {
		// Already torn down by the control loop processing a remote CLOSE.
		return
	}

	sess.RemoveStream(stream.ID)
	atomic.AddInt64(&b.Stats.StreamsClosed, 1)
	if !b.Quiet {
		log.Println("stream closed", sess.ID, stream.ID, "public:", stream.Conn.RemoteAddr())
	}

	if serr := sess.SendClose(stream.ID); serr != nil {
		log.Printf("broker: session %s: CLOSE(%d) failed: %v", sess.ID, stream.ID, serr)
		go b.teardownSession(sess)
		return
	}
	if err != nil {
		log.Printf("broker: session %s: external pump %d: %v", sess.ID, stream.ID, err)
	}
}
