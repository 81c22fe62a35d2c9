package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saba-futai/mtrelay/internal/handshake"
	"github.com/saba-futai/mtrelay/internal/relay"
)

// Dialer opens the backend connection for a validated target.
type Dialer interface {
	Dial(ctx context.Context, target int16) (net.Conn, error)
}

// Handler turns accepted connections into Sessions. It holds only
// configuration that is fixed at startup and is shared by all sessions.
type Handler struct {
	secret           []byte
	dialer           Dialer
	handshakeTimeout time.Duration
	logger           *zap.Logger
	nextID           atomic.Uint64
}

func NewHandler(secret []byte, dialer Dialer, handshakeTimeout time.Duration, logger *zap.Logger) (*Handler, error) {
	if len(secret) != handshake.SecretSize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", handshake.SecretSize, len(secret))
	}
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = handshake.HandshakeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		secret:           append([]byte(nil), secret...),
		dialer:           dialer,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
	}, nil
}

// Serve runs one Session on conn to completion and returns why it ended.
// conn is always closed on return.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) error {
	s := &Session{
		ID:     h.nextID.Add(1),
		client: conn,
	}
	s.logger = h.logger.With(zap.Uint64("id", s.ID), zap.String("addr", conn.RemoteAddr().String()))
	return s.run(ctx, h)
}

// Session is the state of a single accepted connection.
type Session struct {
	ID uint64

	client  net.Conn
	backend net.Conn
	state   atomic.Int32
	once    sync.Once
	target  int16
	logger  *zap.Logger
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Target() int16 {
	return s.target
}

func (s *Session) run(ctx context.Context, h *Handler) error {
	s.setState(Handshaking)

	res, err := handshake.Accept(s.client, h.handshakeTimeout)
	if err != nil {
		return s.reject(err)
	}
	s.target = res.Target

	backend, err := h.dialer.Dial(ctx, res.Target)
	if err != nil {
		return s.reject(fmt.Errorf("%w: %w", ErrBackendUnreachable, err))
	}
	s.backend = backend

	payload, err := handshake.Rewrap(res.Probe, h.secret)
	if err != nil {
		return s.reject(err)
	}
	if _, err := backend.Write(payload); err != nil {
		return s.reject(fmt.Errorf("%w: write handshake: %w", ErrBackendUnreachable, err))
	}

	s.setState(Relaying)
	s.logger.Debug("relaying", zap.Int16("target", res.Target), zap.String("backend", backend.RemoteAddr().String()))

	err = relay.Run(ctx, s.client, backend)
	s.close()
	s.logger.Debug("session closed", zap.String("reason", reasonOf(err)), zap.Error(err))
	return err
}

func (s *Session) reject(err error) error {
	rej := reject(err)
	s.close()
	s.logger.Debug("rejected", zap.String("reason", rej.Reason), zap.Error(rej.Err))
	return rej
}

// close is the single transition into Closed.
func (s *Session) close() {
	s.once.Do(func() {
		s.setState(Closed)
		s.client.Close()
		if s.backend != nil {
			s.backend.Close()
		}
	})
}

func (s *Session) setState(next State) {
	s.state.Store(int32(next))
}
