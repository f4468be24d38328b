package broker

import (
	"crypto/subtle"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xtaci/revtun/internal/proto"
)

// readChunk is the size of each read(2) issued while filling the frame
// decoder from a control socket.
const readChunk = 4096

// frameReader pulls frames off conn one at a time, feeding proto.Decoder as
// needed. Use a fresh one per control connection.
type frameReader struct {
	conn net.Conn
	dec  *proto.Decoder
	buf  [readChunk]byte
}

func newFrameReader(conn net.Conn) *frameReader {
	return &frameReader{conn: conn, dec: proto.NewDecoder()}
}

func (r *frameReader) next() (proto.Frame, error) {
	for {
		if f, ok, err := r.dec.Decode(); err != nil {
			return proto.Frame{}, err
		} else if ok {
			return f, nil
		}
		n, err := r.conn.Read(r.buf[:])
		if n > 0 {
			r.dec.Feed(r.buf[:n])
		}
		if err != nil {
			return proto.Frame{}, err
		}
	}
}

// HandleControl runs the full lifecycle of one inbound control connection.
// It returns once the session (if any was registered) has been fully torn
// down. The returned error identifies why the connection never reached a
// running session — ErrNotHello or ErrAuthFailed for the two rejection
// paths a caller can usefully distinguish, nil once the control loop ran to
// a normal (agent-initiated or broker-initiated) teardown.
func (b *Broker) HandleControl(conn net.Conn) error {
	fr := newFrameReader(conn)

	first, err := fr.next()
	if err != nil {
		conn.Close()
		return err
	}
	if first.Type != proto.HELLO {
		log.Println("broker: first frame was not HELLO, closing connection")
		conn.Close()
		return ErrNotHello
	}

	token, localHost, localPort, wantCompress, err := proto.DecodeHello(first.Payload)
	if err != nil {
		log.Println("broker: malformed HELLO:", err)
		conn.Close()
		return errors.Wrap(err, "decode HELLO")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(b.Token)) != 1 {
		atomic.AddInt64(&b.Stats.AuthFailures, 1)
		log.Println("broker: authentication failed, closing connection silently")
		conn.Close()
		return ErrAuthFailed
	}

	publicPort, err := b.Pool.Allocate()
	if err != nil {
		atomic.AddInt64(&b.Stats.PortExhaustions, 1)
		log.Println("broker: port allocation failed:", err)
		conn.Close()
		return errors.Wrap(err, "allocate port")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", publicPort))
	if err != nil {
		log.Println("broker: bind failed:", errors.Wrap(err, "listen"))
		b.Pool.Release(publicPort)
		conn.Close()
		return errors.Wrap(err, "listen")
	}

	agentID := uuid.NewString()
	sess := NewSession(agentID, token, localHost, localPort, publicPort, conn, listener)
	sess.StartWriter()
	b.Registry.Save(sess)
	atomic.AddInt64(&b.Stats.SessionsRegistered, 1)

	// Compression only engages if both sides opted in. An agent's or
	// broker's unchecked --compress flag can never desynchronize the wire:
	// the agent learns the final answer from WELCOME before it switches
	// either side of its own socket.
	compressEnabled := wantCompress && b.Compress
	if err := sess.writeTyped(func() ([]byte, error) { return proto.EncodeWelcome(uint16(publicPort), compressEnabled) }); err != nil {
		log.Println("broker: WELCOME write failed:", err)
		b.teardownSession(sess)
		return errors.Wrap(err, "send WELCOME")
	}

	if compressEnabled {
		fr = newFrameReader(sess.UpgradeControl())
	}

	log.Printf("broker: agent registered: %s local=%s:%d public_port=%d compress=%v", agentID, localHost, localPort, publicPort, compressEnabled)

	go b.servePublicListener(sess)
	b.runControlLoop(sess, fr)
	return nil
}

// runControlLoop processes DATA/CLOSE frames from the agent until the
// control socket errors or hits EOF, at which point it tears the session
// down completely.
func (b *Broker) runControlLoop(sess *Session, fr *frameReader) {
	for {
		f, err := fr.next()
		if err != nil {
			if err != io.EOF {
				log.Printf("broker: session %s: control read error: %v", sess.ID, err)
			}
			b.teardownSession(sess)
			return
		}

		switch f.Type {
		case proto.DATA:
			b.handleAgentData(sess, f.StreamID, f.Payload)
		case proto.CLOSE:
			b.handleAgentClose(sess, f.StreamID)
		default:
			log.Printf("broker: session %s: ignoring frame type %d (forward compatibility)", sess.ID, f.Type)
		}
	}
}

func (b *Broker) handleAgentData(sess *Session, streamID uint32, payload []byte) {
	stream, ok := sess.GetStream(streamID)
	if !ok {
		log.Printf("broker: session %s: DATA for unknown stream %d, dropping", sess.ID, streamID)
		return
	}

	if _, err := stream.Conn.Write(payload); err != nil {
		sess.RemoveStream(streamID)
		atomic.AddInt64(&b.Stats.StreamsClosed, 1)
		if serr := sess.SendClose(streamID); serr != nil {
			log.Printf("broker: session %s: CLOSE(%d) after write error failed: %v", sess.ID, streamID, serr)
		}
		return
	}
	atomic.AddInt64(&b.Stats.BytesToExternal, int64(len(payload)))
}

func (b *Broker) handleAgentClose(sess *Session, streamID uint32) {
	if _, ok := sess.GetStream(streamID); !ok {
		return
	}
	sess.RemoveStream(streamID)
	atomic.AddInt64(&b.Stats.StreamsClosed, 1)
	if !b.Quiet {
		log.Println("stream closed by agent", sess.ID, streamID)
	}
}
