package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	clientApp net.Conn // the remote client
	serverApp net.Conn // the remote backend
	done      chan error
	cancel    context.CancelFunc
}

func startRelay(t *testing.T) *harness {
	t.Helper()
	clientApp, clientSide := net.Pipe()
	serverSide, serverApp := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		clientApp: clientApp,
		serverApp: serverApp,
		done:      make(chan error, 1),
		cancel:    cancel,
	}
	go func() {
		h.done <- Run(ctx, clientSide, serverSide)
	}()
	t.Cleanup(func() {
		cancel()
		clientApp.Close()
		serverApp.Close()
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not terminate")
		return nil
	}
}

func TestRun_PreservesOrderPerSource(t *testing.T) {
	h := startRelay(t)

	msgs := []string{"m1", "m2-longer", "m3"}
	go func() {
		for _, m := range msgs {
			if _, err := h.clientApp.Write([]byte(m)); err != nil {
				return
			}
		}
	}()

	want := "m1m2-longerm3"
	got := make([]byte, len(want))
	_, err := io.ReadFull(h.serverApp, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	h.clientApp.Close()
	assert.ErrorIs(t, h.wait(t), ErrPeerClosed)
}

func TestRun_BothDirections(t *testing.T) {
	h := startRelay(t)

	go h.clientApp.Write([]byte("PING"))
	buf := make([]byte, 4)
	_, err := io.ReadFull(h.serverApp, buf)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(buf))

	go h.serverApp.Write([]byte("PONG"))
	_, err = io.ReadFull(h.clientApp, buf)
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(buf))

	h.serverApp.Close()
	require.ErrorIs(t, h.wait(t), ErrPeerClosed)
}

func TestRun_ServerCloseClosesClient(t *testing.T) {
	h := startRelay(t)

	h.serverApp.Close()
	err := h.wait(t)
	require.ErrorIs(t, err, ErrPeerClosed)
	assert.Contains(t, err.Error(), "server")

	// The client socket is closed too: reads see EOF instead of blocking.
	h.clientApp.SetReadDeadline(time.Now().Add(time.Second))
	_, err = h.clientApp.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRun_ServerCloseWhileClientWriting(t *testing.T) {
	h := startRelay(t)

	writeErr := make(chan error, 1)
	go func() {
		chunk := make([]byte, ChunkSize)
		for {
			if _, err := h.clientApp.Write(chunk); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	// Drain one chunk so the relay is mid-stream, then drop the backend.
	_, err := io.ReadFull(h.serverApp, make([]byte, ChunkSize))
	require.NoError(t, err)
	h.serverApp.Close()

	require.ErrorIs(t, h.wait(t), ErrPeerClosed)
	select {
	case err := <-writeErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("client writer was not released")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	h := startRelay(t)

	h.cancel()
	err := h.wait(t)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestKind(t *testing.T) {
	assert.True(t, ClientClose.IsClose())
	assert.True(t, ServerClose.IsClose())
	assert.False(t, ClientData.IsClose())
	assert.Equal(t, "ServerData", ServerData.String())
	assert.Equal(t, "Unknown", Kind(0).String())
}
