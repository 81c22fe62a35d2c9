package handshake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/saba-futai/mtrelay/pkg/obfs/keystream"
)

const (
	HandshakeTimeout = 5 * time.Second

	// Probe layout:
	// {8 unused}{32 session key}{16 unused}{60 obfuscated region}{1 trailing}
	ProbeSize       = 117
	SessionKeyStart = 8
	SessionKeyEnd   = 40
	SessionKeySize  = SessionKeyEnd - SessionKeyStart
	MarkerOffset    = 56
	RegionSize      = 60
	TargetOffset    = 4 // inside the decoded region
	SecretSize      = 16
	MaxTarget       = 5
)

var (
	probeMarker  = []byte{0xee, 0xee, 0xee}
	regionMarker = []byte{0xef, 0xef, 0xef, 0xef}
)

var (
	ErrMalformedProbe     = errors.New("malformed probe")
	ErrUnrecognizedMarker = errors.New("unrecognized marker")
	ErrInvalidHandshake   = errors.New("invalid handshake")
	ErrUnknownTarget      = errors.New("unknown target")
)

// decodeRegion is swapped out in tests to observe when the region is decoded.
var decodeRegion = keystream.Apply

// Result is what a validated probe yields.
type Result struct {
	Probe       []byte
	ReversedKey []byte
	Target      int16
}

// TargetID returns the absolute target identifier used for backend lookup.
func (r *Result) TargetID() int {
	return absTarget(r.Target)
}

// ReadProbe reads exactly ProbeSize bytes from conn, bounded by timeout.
// Bytes the client sends after the probe stay in the socket for the relay.
func ReadProbe(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	probe := make([]byte, ProbeSize)
	_, err := io.ReadFull(conn, probe)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProbe, err)
	}
	return probe, nil
}

// Validate checks both markers and extracts the requested target.
// The region is only decoded once the raw marker matched.
func Validate(probe []byte) (*Result, error) {
	if len(probe) != ProbeSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrMalformedProbe, len(probe))
	}
	if !bytes.Equal(probe[MarkerOffset:MarkerOffset+len(probeMarker)], probeMarker) {
		return nil, ErrUnrecognizedMarker
	}

	reversed := keystream.Reverse(probe[SessionKeyStart:SessionKeyEnd])
	region := decodeRegion(probe[MarkerOffset:MarkerOffset+RegionSize], reversed)
	if !bytes.Equal(region[:len(regionMarker)], regionMarker) {
		return nil, ErrInvalidHandshake
	}

	target := int16(binary.LittleEndian.Uint16(region[TargetOffset : TargetOffset+2]))
	if !ValidTarget(target) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}

	return &Result{
		Probe:       probe,
		ReversedKey: reversed,
		Target:      target,
	}, nil
}

// Accept reads and validates the opening probe of a freshly accepted connection.
// Nothing is ever written to conn.
func Accept(conn net.Conn, timeout time.Duration) (*Result, error) {
	probe, err := ReadProbe(conn, timeout)
	if err != nil {
		return nil, err
	}
	return Validate(probe)
}

// Rewrap re-encodes the probe region with secret and returns the bytes from
// MarkerOffset to the end of the probe, ready to be sent to the backend.
func Rewrap(probe, secret []byte) ([]byte, error) {
	if len(probe) != ProbeSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrMalformedProbe, len(probe))
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	out := make([]byte, ProbeSize-MarkerOffset)
	copy(out, probe[MarkerOffset:])
	keystream.XOR(out[:RegionSize], out[:RegionSize], secret)
	return out, nil
}

// ValidTarget reports whether |t| names one of the known backends.
func ValidTarget(t int16) bool {
	a := absTarget(t)
	return a >= 1 && a <= MaxTarget
}

func absTarget(t int16) int {
	v := int(t)
	if v < 0 {
		return -v
	}
	return v
}
