// Package agent implements the private-network side of the tunnel: it
// dials the broker's control endpoint, authenticates, and for each OPEN
// frame dials the configured local service and relays bytes in both
// directions.
package agent

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xtaci/revtun/internal/proto"
	"github.com/xtaci/revtun/internal/relay"
	"github.com/xtaci/revtun/internal/xform"
)

const readChunk = 4096

// frameReader pulls frames off conn one at a time. A fresh one is used per
// control connection, same as the broker side.
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

type writeRequest struct {
	frame []byte
	err   chan error
}

// Client is one connected agent session: the control socket to the broker
// and the table of locally-dialed streams it multiplexes over it.
type Client struct {
	LocalHost string
	LocalPort int
	Quiet     bool
	ChunkSize int

	conn   net.Conn
	fr     *frameReader
	writes chan writeRequest
	done   chan struct{}
	once   sync.Once

	streamsMu sync.Mutex
	streams   map[uint32]net.Conn

	PublicPort uint32
}

// Connect dials the broker, performs the HELLO/WELCOME handshake, and
// returns a ready-to-run Client. Any connection close observed before
// WELCOME — whether caused by a bad token or anything else — is reported
// as ErrAuthFailed.
//
// compress only requests control-channel compression; HELLO carries the
// request in the clear, and WELCOME carries the broker's decision (which
// requires the broker's own --compress to also be set). The socket is not
// switched to snappy framing until that decision is known, so a client run
// with --compress against a broker that does not have it set still
// interoperates instead of desyncing on the first frame.
func Connect(serverHost string, serverPort int, token, localHost string, localPort int, compress, quiet bool, chunkSize int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", serverHost, serverPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}

	hello, err := proto.EncodeHello(token, localHost, localPort, compress)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "encode HELLO")
	}
	if _, err := conn.Write(hello); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "send HELLO")
	}

	fr := newFrameReader(conn)
	f, err := fr.next()
	if err != nil {
		// Any pre-WELCOME close — bad token or otherwise — is reported as
		// an authentication failure; see ErrAuthFailed's doc comment.
		conn.Close()
		return nil, ErrAuthFailed
	}
	if f.Type != proto.WELCOME {
		conn.Close()
		return nil, ErrAuthFailed
	}

	publicPort, compressEnabled, err := proto.DecodeWelcome(f.Payload)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "decode WELCOME")
	}

	if compressEnabled {
		conn = xform.Upgrade(conn)
		fr = newFrameReader(conn)
	}

	c := &Client{
		LocalHost:  localHost,
		LocalPort:  localPort,
		Quiet:      quiet,
		ChunkSize:  chunkSize,
		conn:       conn,
		fr:         fr,
		writes:     make(chan writeRequest, 64),
		done:       make(chan struct{}),
		streams:    make(map[uint32]net.Conn),
		PublicPort: publicPort,
	}
	go c.writerLoop()
	log.Println("agent: connected, public port:", publicPort)
	return c, nil
}

func (c *Client) writerLoop() {
	for {
		select {
		case req := <-c.writes:
			_, err := c.conn.Write(req.frame)
			if req.err != nil {
				req.err <- err
			}
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) write(frame []byte) error {
	req := writeRequest{frame: frame, err: make(chan error, 1)}
	select {
	case c.writes <- req:
	case <-c.done:
		return net.ErrClosed
	}
	select {
	case err := <-req.err:
		return err
	case <-c.done:
		return net.ErrClosed
	}
}

func (c *Client) sendData(streamID uint32, data []byte) error {
	frame, err := proto.EncodeData(streamID, data)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Client) sendClose(streamID uint32) error {
	frame, err := proto.EncodeClose(streamID)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Close tears the control connection down, closing every dialed local
// stream along with it.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.streamsMu.Lock()
		for id, conn := range c.streams {
			conn.Close()
			delete(c.streams, id)
		}
		c.streamsMu.Unlock()
		c.conn.Close()
	})
}

// Run processes frames from the broker until the control connection closes,
// dispatching OPEN/DATA/CLOSE. It returns the error that
// ended the loop (io.EOF on a clean broker-initiated close).
func (c *Client) Run() error {
	defer c.Close()
	for {
		f, err := c.fr.next()
		if err != nil {
			return err
		}
		switch f.Type {
		case proto.OPEN:
			c.handleOpen(f.StreamID)
		case proto.DATA:
			c.handleData(f.StreamID, f.Payload)
		case proto.CLOSE:
			c.handleClose(f.StreamID)
		default:
			log.Printf("agent: ignoring frame type %d (forward compatibility)", f.Type)
		}
	}
}

func (c *Client) handleOpen(streamID uint32) {
	c.streamsMu.Lock()
	if _, exists := c.streams[streamID]; exists {
		c.streamsMu.Unlock()
		log.Printf("agent: duplicate OPEN for stream %d, ignoring (broker bug?)", streamID)
		return
	}
	c.streamsMu.Unlock()

	local, err := net.Dial("tcp", fmt.Sprintf("%s:%d", c.LocalHost, c.LocalPort))
	if err != nil {
		log.Printf("agent: local dial failed for stream %d: %v", streamID, err)
		if serr := c.sendClose(streamID); serr != nil {
			log.Printf("agent: CLOSE(%d) after failed dial: %v", streamID, serr)
		}
		return
	}

	c.streamsMu.Lock()
	c.streams[streamID] = local
	c.streamsMu.Unlock()

	if !c.Quiet {
		log.Println("stream opened", streamID, "local:", local.RemoteAddr())
	}

	go c.runLocalPump(streamID, local)
}

func (c *Client) runLocalPump(streamID uint32, local net.Conn) {
	err := relay.Pump(streamID, local, c.sendData, c.ChunkSize)

	c.streamsMu.Lock()
	_, stillLive := c.streams[streamID]
	if stillLive {
		delete(c.streams, streamID)
	}
	c.streamsMu.Unlock()
	if !stillLive {
		// Already torn down by a remote CLOSE.
		return
	}

	local.Close()
	if !c.Quiet {
		log.Println("stream closed", streamID)
	}
	if serr := c.sendClose(streamID); serr != nil {
		log.Printf("agent: CLOSE(%d) after local EOF failed: %v", streamID, serr)
	}
	if err != nil {
		log.Printf("agent: local pump %d: %v", streamID, err)
	}
}

func (c *Client) handleData(streamID uint32, payload []byte) {
	c.streamsMu.Lock()
	local, ok := c.streams[streamID]
	c.streamsMu.Unlock()
	if !ok {
		log.Printf("agent: DATA for unknown stream %d, dropping", streamID)
		return
	}

	if _, err := local.Write(payload); err != nil {
		c.streamsMu.Lock()
		delete(c.streams, streamID)
		c.streamsMu.Unlock()
		local.Close()
		if serr := c.sendClose(streamID); serr != nil {
			log.Printf("agent: CLOSE(%d) after write error: %v", streamID, serr)
		}
	}
}

func (c *Client) handleClose(streamID uint32) {
	c.streamsMu.Lock()
	local, ok := c.streams[streamID]
	if ok {
		delete(c.streams, streamID)
	}
	c.streamsMu.Unlock()
	if !ok {
		return
	}
	local.Close()
	if !c.Quiet {
		log.Println("stream closed by broker", streamID)
	}
}
