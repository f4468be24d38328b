package proto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	wire, err := Encode(DATA, 7, []byte("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != HeaderSize+5 {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+5, len(wire))
	}

	d := NewDecoder()
	d.Feed(wire)
	f, ok, err := d.Decode()
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if f.Type != DATA || f.StreamID != 7 || !bytes.Equal(f.Payload, []byte("hello")) {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if len(d.buf) != 0 {
		t.Fatalf("expected no residual bytes, got %d", len(d.buf))
	}
}

func TestDecodeArbitraryChunking(t *testing.T) {
	wire, err := Encode(DATA, 7, []byte("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	chunks := []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 5}
	sum := 0
	for _, c := range chunks {
		sum += c
	}
	if sum != len(wire) {
		t.Fatalf("chunk plan %v doesn't cover %d bytes", chunks, len(wire))
	}

	d := NewDecoder()
	off := 0
	var got *Frame
	for _, c := range chunks {
		d.Feed(wire[off : off+c])
		off += c
		f, ok, err := d.Decode()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ok {
			if got != nil {
				t.Fatalf("decoded more than one frame")
			}
			fc := f
			got = &fc
		}
	}
	if got == nil {
		t.Fatalf("expected exactly one frame to emerge")
	}
	if got.Type != DATA || got.StreamID != 7 || !bytes.Equal(got.Payload, []byte("hello")) {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestDecodeArbitrarySplitAllBoundaries(t *testing.T) {
	wire, err := Encode(OPEN, 42, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for split := 0; split <= len(wire); split++ {
		d := NewDecoder()
		d.Feed(wire[:split])
		f, ok, err := d.Decode()
		if split < len(wire) {
			if ok || err != nil {
				t.Fatalf("split=%d: expected not-ready, got ok=%v err=%v", split, ok, err)
			}
			d.Feed(wire[split:])
			f, ok, err = d.Decode()
		}
		if err != nil || !ok {
			t.Fatalf("split=%d: decode failed ok=%v err=%v", split, ok, err)
		}
		if f.Type != OPEN || f.StreamID != 42 || len(f.Payload) != 0 {
			t.Fatalf("split=%d: unexpected frame %+v", split, f)
		}
	}
}

func TestEncodeSequenceInOrder(t *testing.T) {
	var all []byte
	want := []Frame{
		{Type: OPEN, StreamID: 1},
		{Type: DATA, StreamID: 1, Payload: []byte("abc")},
		{Type: DATA, StreamID: 2, Payload: []byte("xyz")},
		{Type: CLOSE, StreamID: 1},
	}
	for _, f := range want {
		wire, err := Encode(f.Type, f.StreamID, f.Payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		all = append(all, wire...)
	}

	d := NewDecoder()
	// feed in irregular 3-byte chunks to exercise arbitrary TCP segmentation
	for i := 0; i < len(all); i += 3 {
		end := i + 3
		if end > len(all) {
			end = len(all)
		}
		d.Feed(all[i:end])
	}

	var got []Frame
	for {
		f, ok, err := d.Decode()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, f)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Type != want[i].Type || got[i].StreamID != want[i].StreamID || !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("frame %d: want %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	_, err := Encode(DATA, 1, make([]byte, MaxPayload+1))
	if err == nil {
		t.Fatalf("expected error for oversize payload")
	}
}

func TestDecodeRejectsOversizeLength(t *testing.T) {
	// craft a header claiming an oversize length with no payload backing it
	buf := make([]byte, HeaderSize)
	buf[0] = DATA
	buf[5] = 0xFF // high byte of length -> far beyond MaxPayload
	d := NewDecoder()
	d.Feed(buf)
	_, _, err := d.Decode()
	if err == nil {
		t.Fatalf("expected protocol error for oversize advertised length")
	}
}

func TestDecodeNotReadyOnPartialInput(t *testing.T) {
	wire, _ := Encode(DATA, 1, []byte("partial-payload"))
	d := NewDecoder()
	d.Feed(wire[:HeaderSize+3])
	_, ok, err := d.Decode()
	if ok || err != nil {
		t.Fatalf("expected not-ready, got ok=%v err=%v", ok, err)
	}
}
