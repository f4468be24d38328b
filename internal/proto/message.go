package proto

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedHello is returned by DecodeHello for a payload that does not
// split into exactly four NUL-separated parts, or whose port is not numeric.
var ErrMalformedHello = errors.New("proto: malformed HELLO payload")

// ErrMalformedWelcome is returned by DecodeWelcome for a payload that is not
// exactly 5 bytes (port + compress flag).
var ErrMalformedWelcome = errors.New("proto: malformed WELCOME payload")

// EncodeHello builds a HELLO frame. Payload is the UTF-8 string
// "token\0local_host\0local_port\0compress_requested", where the last part
// is "1" or "0". The control socket is always plaintext at the point HELLO
// is sent — compression, if any, only takes effect after WELCOME settles
// what both sides agreed to.
func EncodeHello(token, localHost string, localPort int, compressRequested bool) ([]byte, error) {
	payload := token + "\x00" + localHost + "\x00" + strconv.Itoa(localPort) + "\x00" + boolFlag(compressRequested)
	return Encode(HELLO, 0, []byte(payload))
}

// DecodeHello parses a HELLO payload into its four parts.
func DecodeHello(payload []byte) (token, localHost string, localPort int, compressRequested bool, err error) {
	parts := strings.Split(string(payload), "\x00")
	if len(parts) != 4 {
		return "", "", 0, false, errors.Wrapf(ErrMalformedHello, "expected 4 parts, got %d", len(parts))
	}
	port, convErr := strconv.Atoi(parts[2])
	if convErr != nil {
		return "", "", 0, false, errors.Wrapf(ErrMalformedHello, "non-numeric port %q", parts[2])
	}
	flag, flagErr := parseBoolFlag(parts[3])
	if flagErr != nil {
		return "", "", 0, false, errors.Wrapf(ErrMalformedHello, "bad compress flag %q", parts[3])
	}
	return parts[0], parts[1], port, flag, nil
}

// EncodeWelcome builds a WELCOME frame carrying the allocated public port
// and whether the broker enabled control-channel compression. The agent
// must not switch its own side to compressed mode until it has decoded
// this frame off the plaintext wire.
func EncodeWelcome(publicPort uint16, compressEnabled bool) ([]byte, error) {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[:4], uint32(publicPort))
	if compressEnabled {
		payload[4] = 1
	}
	return Encode(WELCOME, 0, payload)
}

// DecodeWelcome extracts the public port and negotiated compression state
// from a WELCOME payload.
func DecodeWelcome(payload []byte) (publicPort uint32, compressEnabled bool, err error) {
	if len(payload) != 5 {
		return 0, false, errors.Wrapf(ErrMalformedWelcome, "expected 5 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[:4]), payload[4] == 1, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBoolFlag(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, errors.Errorf("proto: not a bool flag: %q", s)
	}
}

// EncodeOpen builds an OPEN frame for streamID. The payload is empty; the
// stream id in the header is the sole semantic content.
func EncodeOpen(streamID uint32) ([]byte, error) {
	return Encode(OPEN, streamID, nil)
}

// EncodeClose builds a CLOSE frame for streamID.
func EncodeClose(streamID uint32) ([]byte, error) {
	return Encode(CLOSE, streamID, nil)
}

// EncodeData builds a DATA frame carrying data for streamID.
func EncodeData(streamID uint32, data []byte) ([]byte, error) {
	return Encode(DATA, streamID, data)
}
