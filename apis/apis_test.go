package apis

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saba-futai/mtrelay/internal/handshake"
	"github.com/saba-futai/mtrelay/pkg/obfs/keystream"
)

func TestServerHandshakeRewrapsRegion(t *testing.T) {
	sessionKey := bytes.Repeat([]byte{0x5a}, handshake.SessionKeySize)
	probe, err := handshake.BuildProbe(sessionKey, -4)
	require.NoError(t, err)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go client.Write(probe)

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	res, err := ServerHandshake(server, cfg)
	require.NoError(t, err)
	assert.Equal(t, int16(-4), res.Target)

	secret, _ := hex.DecodeString(testSecret)
	want := append(keystream.Apply(probe[handshake.MarkerOffset:handshake.MarkerOffset+handshake.RegionSize], secret), probe[handshake.ProbeSize-1])
	assert.Equal(t, want, res.BackendPayload)
}

func TestServerHandshakeRejects(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go client.Write(make([]byte, handshake.ProbeSize))

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	_, err := ServerHandshake(server, cfg)
	assert.ErrorIs(t, err, handshake.ErrUnrecognizedMarker)

	_, err = ServerHandshake(server, nil)
	assert.Error(t, err)
}

func TestServeAndDial(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backendLn.Close()

	payloads := make(chan []byte, 1)
	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, handshake.RegionSize+1+4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		payloads <- buf
		conn.Write([]byte("PONG"))
	}()

	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Backends = map[int]string{3: backendLn.Addr().String()}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, relayLn, cfg, nil) }()

	clientCfg := DefaultConfig()
	clientCfg.ServerAddress = relayLn.Addr().String()
	clientCfg.Target = 3

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, err := Dial(dialCtx, clientCfg)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("PING"))
	require.NoError(t, err)

	select {
	case got := <-payloads:
		assert.Equal(t, []byte("PING"), got[handshake.RegionSize+1:])
	case <-time.After(3 * time.Second):
		t.Fatal("backend never received the relayed bytes")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, 4)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG"), reply)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeInvalidConfig(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = Serve(context.Background(), ln, DefaultConfig(), nil)
	require.Error(t, err)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultConfig()
	cfg.ServerAddress = addr
	_, err = Dial(context.Background(), cfg)
	require.Error(t, err)

	cfg.Target = 9
	_, err = Dial(context.Background(), cfg)
	require.ErrorContains(t, err, "Target")
}
