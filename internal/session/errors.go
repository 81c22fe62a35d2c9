package session

import (
	"errors"

	"github.com/saba-futai/mtrelay/internal/handshake"
	"github.com/saba-futai/mtrelay/internal/relay"
)

var ErrBackendUnreachable = errors.New("backend unreachable")

// RejectError describes why a session was closed during the handshake.
// It only ever reaches logs; the client sees nothing but the closed socket.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	return e.Reason + ": " + e.Err.Error()
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

func reject(err error) *RejectError {
	return &RejectError{Reason: reasonOf(err), Err: err}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, handshake.ErrMalformedProbe):
		return "malformed_probe"
	case errors.Is(err, handshake.ErrUnrecognizedMarker):
		return "unrecognized_marker"
	case errors.Is(err, handshake.ErrInvalidHandshake):
		return "invalid_handshake"
	case errors.Is(err, handshake.ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, ErrBackendUnreachable):
		return "backend_unreachable"
	case errors.Is(err, relay.ErrPeerClosed):
		return "peer_closed"
	default:
		return "internal"
	}
}
