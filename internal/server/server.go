package server

// server.go owns the listener and the lifecycle shared by both connection
// engines: accept with backoff on transient failures, connection tracking,
// and orderly shutdown (close the listener, close live connections, then
// wait for workers/routines to drain).
//
// © 2025 stripecache authors. MIT License.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Voskan/stripecache/internal/executor"
	cache "github.com/Voskan/stripecache/pkg"
)

// Mode selects the connection engine.
type Mode string

const (
	// ModePool executes connection work on the elastic executor; each
	// connection is serialised by its own mutex.
	ModePool Mode = "pool"

	// ModeCoro drives all connections cooperatively on one engine thread.
	ModeCoro Mode = "coro"
)

// Config bundles the server knobs.
type Config struct {
	Addr string
	Mode Mode

	// Executor sizing, used by ModePool only.
	LowWatermark  int
	HighWatermark int
	MaxQueueSize  int
	IdleTime      time.Duration

	Logger *zap.Logger
}

var errUnknownMode = errors.New("server: unknown mode")

// Server accepts connections and executes protocol commands against the
// storage it was built with.
type Server struct {
	cfg Config
	log *zap.Logger
	st  cache.Storage

	lis net.Listener

	mu     sync.Mutex
	conns  map[io.Closer]struct{}
	closed bool
}

// New binds the listener but does not accept yet; call ListenAndServe.
func New(cfg Config, st cache.Storage) (*Server, error) {
	if cfg.Mode != ModePool && cfg.Mode != ModeCoro {
		return nil, fmt.Errorf("%w: %q", errUnknownMode, cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.LowWatermark == 0 {
		cfg.LowWatermark = 2
	}
	if cfg.HighWatermark == 0 {
		cfg.HighWatermark = 8
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = 128
	}
	if cfg.IdleTime == 0 {
		cfg.IdleTime = 3 * time.Second
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:   cfg,
		log:   cfg.Logger.Named("server"),
		st:    st,
		lis:   lis,
		conns: make(map[io.Closer]struct{}),
	}, nil
}

// Addr reports the bound address, useful when cfg.Addr used port 0.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// ListenAndServe serves until ctx is cancelled or the listener fails. It
// returns after all connections are closed and the connection engine has
// drained.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log.Info("serving",
		zap.String("addr", s.lis.Addr().String()),
		zap.String("mode", string(s.cfg.Mode)))

	switch s.cfg.Mode {
	case ModePool:
		return s.servePool(ctx)
	default:
		return s.serveCoro(ctx)
	}
}

// servePool runs the executor-backed variant.
func (s *Server) servePool(ctx context.Context) error {
	exec, err := executor.New(executor.Config{
		Name:          "server",
		MaxQueueSize:  s.cfg.MaxQueueSize,
		LowWatermark:  s.cfg.LowWatermark,
		HighWatermark: s.cfg.HighWatermark,
		IdleTime:      s.cfg.IdleTime,
		Logger:        s.cfg.Logger,
	})
	if err != nil {
		s.lis.Close()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(func(nc net.Conn) {
			c := newPoolConn(s, exec, nc)
			s.track(nc)
			go c.serve()
		})
	})

	err = g.Wait()
	// In-flight connection tasks finish; queued ones are discarded with the
	// sockets already closed.
	exec.Stop(true)
	return err
}

// acceptLoop accepts until the listener closes, backing off on transient
// errors so a hiccup (EMFILE, conn reset storms) does not spin the CPU.
func (s *Server) acceptLoop(handle func(net.Conn)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	for {
		nc, err := s.lis.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(bo.NextBackOff())
				continue
			}
			s.log.Warn("accept failed", zap.Error(err))
			time.Sleep(bo.NextBackOff())
			continue
		}
		bo.Reset()
		handle(nc)
	}
}

/*
   -------- Connection tracking & shutdown --------
*/

func (s *Server) track(c io.Closer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c io.Closer) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// shutdown closes the listener and every live socket. Connection goroutines
// observe the closed sockets and wind themselves down.
func (s *Server) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]io.Closer, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.lis.Close()
	for _, c := range conns {
		c.Close()
	}
	s.log.Info("shutdown complete", zap.Int("connections_closed", len(conns)))
}
