package broker

import "github.com/pkg/errors"

// Semantic error kinds returned by HandleControl. Neither ever escapes to
// crash the process; both are handled by closing the one offending
// connection. Callers that care which happened use errors.Is against these.
var (
	// ErrAuthFailed means the agent presented the wrong token. HandleControl
	// has already closed the control socket silently — no WELCOME, no error
	// frame.
	ErrAuthFailed = errors.New("broker: authentication failed")

	// ErrNotHello means the first frame on a new control connection was
	// not HELLO. This is a fatal protocol error for that connection.
	ErrNotHello = errors.New("broker: first frame was not HELLO")
)
