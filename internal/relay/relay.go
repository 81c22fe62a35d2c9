package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ChunkSize bounds a single read from either socket.
const ChunkSize = 4096

// ErrPeerClosed ends every relay that was not cancelled by its context.
// Read errors and clean EOF are not told apart.
var ErrPeerClosed = errors.New("peer closed")

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, ChunkSize)
	},
}

// Run forwards bytes between client and server until either side closes or
// ctx is done. Each payload is written to the opposite socket before the next
// event is consumed, so a slow peer stalls the session instead of losing data.
// Both sockets are closed and both readers have returned when Run returns.
func Run(ctx context.Context, client, server net.Conn) error {
	events := make(chan Event)
	done := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		readLoop(client, ClientData, ClientClose, events, done)
		return nil
	})
	g.Go(func() error {
		readLoop(server, ServerData, ServerClose, events, done)
		return nil
	})

	err := consume(ctx, client, server, events)

	// Closing the sockets unblocks pending reads; done unblocks pending sends.
	close(done)
	client.Close()
	server.Close()
	g.Wait()

	return err
}

func consume(ctx context.Context, client, server net.Conn, events <-chan Event) error {
	for {
		var ev Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev = <-events:
		}

		switch ev.Kind {
		case ClientData:
			_, err := server.Write(ev.Data)
			release(ev.Data)
			if err != nil {
				return fmt.Errorf("%w: write to server: %w", ErrPeerClosed, err)
			}
		case ServerData:
			_, err := client.Write(ev.Data)
			release(ev.Data)
			if err != nil {
				return fmt.Errorf("%w: write to client: %w", ErrPeerClosed, err)
			}
		case ClientClose:
			return fmt.Errorf("%w: client", ErrPeerClosed)
		case ServerClose:
			return fmt.Errorf("%w: server", ErrPeerClosed)
		}
	}
}

func readLoop(conn net.Conn, dataKind, closeKind Kind, events chan<- Event, done <-chan struct{}) {
	for {
		buf := bufferPool.Get().([]byte)
		n, err := conn.Read(buf)
		if n > 0 {
			if !publish(events, done, Event{Kind: dataKind, Data: buf[:n]}) {
				release(buf)
				return
			}
		} else {
			release(buf)
		}
		if err != nil {
			publish(events, done, Event{Kind: closeKind})
			return
		}
	}
}

func publish(events chan<- Event, done <-chan struct{}, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-done:
		return false
	}
}

func release(buf []byte) {
	if cap(buf) < ChunkSize {
		return
	}
	bufferPool.Put(buf[:ChunkSize])
}
