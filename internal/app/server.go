// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saba-futai/mtrelay/internal/backend"
	"github.com/saba-futai/mtrelay/internal/config"
	"github.com/saba-futai/mtrelay/internal/session"
	"github.com/saba-futai/mtrelay/pkg/dnsutil"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts client connections and hands each one to its own Session.
type Server struct {
	cfg     *config.Config
	handler *session.Handler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	sessions sync.WaitGroup
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	secret, err := cfg.SecretBytes()
	if err != nil {
		return nil, err
	}

	table := backend.DefaultTable()
	overrides, err := cfg.BackendOverrides()
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if table, err = table.WithOverrides(overrides); err != nil {
			return nil, err
		}
	}

	var resolver *dnsutil.Resolver
	if cfg.DNSServer != "" {
		if resolver, err = dnsutil.NewResolver(0, cfg.DNSServer); err != nil {
			return nil, err
		}
	}

	dialer := backend.NewDialer(table, resolver, cfg.DialTimeout)
	handler, err := session.NewHandler(secret, dialer, cfg.HandshakeTimeout, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("backend table", zap.Strings("backends", table.Entries()))
	return &Server{cfg: cfg, handler: handler, logger: logger}, nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// done or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr(), err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts on l. Cancelling ctx only stops accepting; sessions that are
// already running continue until their peers close.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Shutdown() })
	defer stop()

	s.logger.Info("relay listening", zap.String("addr", l.Addr().String()), zap.String("secret", s.cfg.MaskedSecret()))

	sessionCtx := context.WithoutCancel(ctx)
	var backoff time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", zap.Duration("backoff", backoff), zap.Error(err))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.handler.Serve(sessionCtx, c)
		}()
	}
}

// Shutdown stops accepting new connections. In-flight sessions are untouched.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	s.closing = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Wait blocks until every session started by Serve has ended or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return minAcceptBackoff
	}
	cur *= 2
	if cur > maxAcceptBackoff {
		cur = maxAcceptBackoff
	}
	return cur
}

// RunServer serves cfg until ctx is done, then gives in-flight sessions
// grace to finish.
func RunServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, grace time.Duration) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv, err := NewServer(cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Wait(waitCtx); err != nil {
		logger.Warn("sessions still running at exit", zap.Error(err))
	}
	return nil
}
