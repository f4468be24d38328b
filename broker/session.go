package broker

import (
	"log"
	"net"
	"sync"

	"github.com/xtaci/revtun/internal/proto"
	"github.com/xtaci/revtun/internal/xform"
)

// Stream is one public-side TCP connection multiplexed over a session's
// control socket. It is created on public-side accept and destroyed on
// either peer's EOF, a remote CLOSE frame, a write error, or session
// teardown.
type Stream struct {
	ID   uint32
	Conn net.Conn

	closeOnce sync.Once
}

func newStream(id uint32, conn net.Conn) *Stream {
	return &Stream{ID: id, Conn: conn}
}

// Close closes the stream's socket exactly once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.Conn.Close()
	})
}

// writeRequest is one outbound frame queued for the control socket's single
// writer goroutine, which serializes every writer onto one socket without
// extra locking at the call site.
type writeRequest struct {
	frame []byte
	err   chan error
}

// Session is all broker-side state for one connected agent: control
// socket, public listener, leased port, stream table. A session exclusively
// owns its stream table, its public listener, and its control socket.
type Session struct {
	ID         string
	Token      string
	LocalHost  string
	LocalPort  int
	PublicPort int

	control  net.Conn
	listener net.Listener

	streamsMu sync.Mutex
	streams   map[uint32]*Stream
	nextID    uint32

	writes    chan writeRequest
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession constructs a Session whose writer is not yet running; it does
// not register it anywhere. Call StartWriter once the control socket is
// ready to accept writes.
func NewSession(id, token, localHost string, localPort, publicPort int, control net.Conn, listener net.Listener) *Session {
	s := &Session{
		ID:         id,
		Token:      token,
		LocalHost:  localHost,
		LocalPort:  localPort,
		PublicPort: publicPort,
		control:    control,
		listener:   listener,
		streams:    make(map[uint32]*Stream),
		writes:     make(chan writeRequest, 64),
		done:       make(chan struct{}),
	}
	return s
}

// StartWriter launches the dedicated goroutine that serializes every
// agent-direction write onto the control socket.
func (s *Session) StartWriter() {
	go s.writerLoop()
}

func (s *Session) writerLoop() {
	for {
		select {
		case req := <-s.writes:
			_, err := s.control.Write(req.frame)
			if req.err != nil {
				req.err <- err
			}
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Write queues frame for the control socket and waits for the underlying
// Write to complete, giving callers the flush-before-next-read semantics a
// pump needs to stay backpressured.
func (s *Session) Write(frame []byte) error {
	req := writeRequest{frame: frame, err: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.done:
		return net.ErrClosed
	}
	select {
	case err := <-req.err:
		return err
	case <-s.done:
		return net.ErrClosed
	}
}

// UpgradeControl switches the control socket to snappy compression and
// returns the upgraded conn for the caller to build a new frame reader
// over. Call it only after WELCOME has gone out on the plaintext wire and
// only while no other write is in flight — immediately after the
// synchronous writeTyped call that sent WELCOME is the only safe point.
func (s *Session) UpgradeControl() net.Conn {
	s.control = xform.Upgrade(s.control)
	return s.control
}

// NextStreamID returns the next id for a newly accepted public connection,
// assigned from a per-session monotonically increasing counter that wraps
// at 2^32. Collisions with still-live ids are vanishingly unlikely under
// the 1 MiB frame budget but are resolved by skipping in-use ids.
func (s *Session) NextStreamID() uint32 {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	for {
		id := s.nextID
		s.nextID++
		if _, inUse := s.streams[id]; !inUse {
			return id
		}
	}
}

// AddStream records a stream under id. Insertion order is irrelevant; keys
// are unique.
func (s *Session) AddStream(id uint32, conn net.Conn) *Stream {
	st := newStream(id, conn)
	s.streamsMu.Lock()
	s.streams[id] = st
	s.streamsMu.Unlock()
	return st
}

// GetStream looks up a stream by id, returning (nil, false) if absent.
func (s *Session) GetStream(id uint32) (*Stream, bool) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	st, ok := s.streams[id]
	return st, ok
}

// RemoveStream closes and removes the stream for id, if present. Safe to
// call more than once for the same id.
func (s *Session) RemoveStream(id uint32) {
	s.streamsMu.Lock()
	st, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.streamsMu.Unlock()

	if ok {
		st.Close()
	}
}

// allStreamIDs returns a snapshot of currently live stream ids.
func (s *Session) allStreamIDs() []uint32 {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	ids := make([]uint32, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}

// Teardown cancels the writer goroutine, closes the public listener, closes
// every live stream and finally the control socket itself. Safe to call
// more than once; only the first call has effect.
func (s *Session) Teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				log.Println("session teardown: listener close:", err)
			}
		}
		for _, id := range s.allStreamIDs() {
			s.RemoveStream(id)
		}
		if err := s.control.Close(); err != nil {
			log.Println("session teardown: control close:", err)
		}
	})
}

// writeTyped is a convenience wrapper building a framed message with encode
// and sending it through the serialized writer.
func (s *Session) writeTyped(encode func() ([]byte, error)) error {
	frame, err := encode()
	if err != nil {
		return err
	}
	return s.Write(frame)
}

// SendOpen notifies the agent of a newly accepted public connection.
func (s *Session) SendOpen(streamID uint32) error {
	return s.writeTyped(func() ([]byte, error) { return proto.EncodeOpen(streamID) })
}

// SendData forwards bytes read from the public socket to the agent.
func (s *Session) SendData(streamID uint32, data []byte) error {
	return s.writeTyped(func() ([]byte, error) { return proto.EncodeData(streamID, data) })
}

// SendClose tells the agent a stream has gone away.
func (s *Session) SendClose(streamID uint32) error {
	return s.writeTyped(func() ([]byte, error) { return proto.EncodeClose(streamID) })
}
