package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/saba-futai/mtrelay/pkg/obfs/keystream"
)

// BuildProbe assembles a probe that asks for target using sessionKey as key material.
// The last three key bytes are forced so that the raw region starts with the
// pre-decode marker; everything else that is not structural is random.
func BuildProbe(sessionKey []byte, target int16) ([]byte, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", SessionKeySize, len(sessionKey))
	}
	if !ValidTarget(target) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}

	probe := make([]byte, ProbeSize)
	if _, err := rand.Read(probe); err != nil {
		return nil, fmt.Errorf("generate probe filler failed: %w", err)
	}

	key := probe[SessionKeyStart:SessionKeyEnd]
	copy(key, sessionKey)
	for i := range probeMarker {
		key[SessionKeySize-1-i] = probeMarker[i] ^ regionMarker[i]
	}

	region := probe[MarkerOffset : MarkerOffset+RegionSize]
	copy(region, regionMarker)
	binary.LittleEndian.PutUint16(region[TargetOffset:TargetOffset+2], uint16(target))
	keystream.XOR(region, region, keystream.Reverse(key))

	return probe, nil
}

// NewProbe builds a probe for target with a random session key.
func NewProbe(target int16) ([]byte, error) {
	sessionKey := make([]byte, SessionKeySize)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("generate session key failed: %w", err)
	}
	return BuildProbe(sessionKey, target)
}

// ClientHandshake writes a fresh probe for target to conn.
func ClientHandshake(conn net.Conn, target int16) error {
	probe, err := NewProbe(target)
	if err != nil {
		return err
	}
	if _, err := conn.Write(probe); err != nil {
		return fmt.Errorf("write probe failed: %w", err)
	}
	return nil
}
