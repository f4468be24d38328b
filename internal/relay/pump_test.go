package relay

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPumpForwardsAllChunksThenEOF(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("x"), 10))
	var got []byte
	err := Pump(1, src, func(streamID uint32, data []byte) error {
		if streamID != 1 {
			t.Fatalf("unexpected stream id %d", streamID)
		}
		got = append(got, data...)
		return nil
	}, 4)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte("x"), 10)) {
		t.Fatalf("unexpected forwarded bytes: %q", got)
	}
}

func TestPumpPropagatesSendError(t *testing.T) {
	src := bytes.NewReader([]byte("hello"))
	sentinel := errors.New("send failed")
	err := Pump(1, src, func(streamID uint32, data []byte) error {
		return sentinel
	}, 4)
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestPumpPropagatesReadError(t *testing.T) {
	sentinel := errors.New("read failed")
	r := &erroringReader{err: sentinel}
	err := Pump(1, r, func(streamID uint32, data []byte) error { return nil }, 4)
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestPumpStopsOnlyAfterFlushingLastRead(t *testing.T) {
	// a reader that returns data and io.EOF in the same call
	r := &eofWithDataReader{data: []byte("tail")}
	var got []byte
	err := Pump(1, r, func(streamID uint32, data []byte) error {
		got = append(got, data...)
		return nil
	}, 64)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if string(got) != "tail" {
		t.Fatalf("expected final chunk to be delivered before EOF, got %q", got)
	}
}

type erroringReader struct{ err error }

func (r *erroringReader) Read(p []byte) (int, error) { return 0, r.err }

type eofWithDataReader struct {
	data []byte
	done bool
}

func (r *eofWithDataReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.done = true
	return n, io.EOF
}
