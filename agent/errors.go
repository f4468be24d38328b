package agent

import "github.com/pkg/errors"

// ErrAuthFailed is surfaced when the control socket closes before WELCOME
// is received. Any pre-WELCOME close — not just a deliberate token
// rejection — is reported this way; a richer taxonomy would require the
// broker to send an explicit error frame, which the wire protocol does
// not define.
var ErrAuthFailed = errors.New("agent: authentication failed")
