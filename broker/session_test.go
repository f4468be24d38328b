package broker

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/revtun/internal/proto"
)

func TestSessionWriteSerializesOntoControlSocket(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sess := NewSession("agent-1", "tok", "127.0.0.1", 80, 10001, a, nil)
	sess.StartWriter()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			frame, err := proto.EncodeData(uint32(i), []byte("x"))
			if err != nil {
				errs <- err
				return
			}
			errs <- sess.Write(frame)
		}()
	}

	dec := proto.NewDecoder()
	buf := make([]byte, 256)
	seen := make(map[uint32]bool)
	for len(seen) < n {
		nread, err := b.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		dec.Feed(buf[:nread])
		for {
			f, ok, err := dec.Decode()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !ok {
				break
			}
			seen[f.StreamID] = true
		}
	}

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct frames, saw %d", n, len(seen))
	}
}

func TestSessionStreamLifecycle(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	sess := NewSession("agent-1", "tok", "127.0.0.1", 80, 10001, a, nil)

	local, remote := net.Pipe()
	defer remote.Close()
	id := sess.NextStreamID()
	sess.AddStream(id, local)

	st, ok := sess.GetStream(id)
	if !ok || st.ID != id {
		t.Fatalf("expected stream %d registered", id)
	}

	secondID := sess.NextStreamID()
	if secondID == id {
		t.Fatalf("expected distinct stream ids, got %d twice", id)
	}

	sess.RemoveStream(id)
	if _, ok := sess.GetStream(id); ok {
		t.Fatalf("expected stream %d removed", id)
	}
	// idempotent
	sess.RemoveStream(id)
}

func TestSessionTeardownClosesEverything(t *testing.T) {
	control, controlPeer := net.Pipe()
	defer controlPeer.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	sess := NewSession("agent-1", "tok", "127.0.0.1", 80, 10001, control, ln)
	sess.StartWriter()

	local, remote := net.Pipe()
	defer remote.Close()
	id := sess.NextStreamID()
	sess.AddStream(id, local)

	sess.Teardown()
	// safe to call twice
	sess.Teardown()

	if _, err := ln.Accept(); err == nil {
		t.Fatalf("expected listener closed after teardown")
	}

	if err := sess.Write([]byte("x")); err != net.ErrClosed {
		t.Fatalf("expected writes to a torn-down session to fail fast, got %v", err)
	}

	// the stream's local half should have been closed too
	buf := make([]byte, 1)
	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(buf); err == nil {
		t.Fatalf("expected stream conn closed after teardown")
	}
}
