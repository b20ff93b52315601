package server

// coro.go is the coroutine-variant connection engine. One engine thread
// drives every connection; each connection owns a read routine and a write
// routine. Socket readiness cannot be observed directly on Go's blocking
// net.Conn, so a small pump goroutine per connection performs the blocking
// read and posts the chunk to the engine thread, where it wakes the read
// routine. Routines block themselves whenever their buffer runs dry.
//
// Replies are written from the write routine on the engine thread. A peer
// that stops draining its socket therefore stalls the engine; that is the
// accepted cost of the single-threaded variant.
//
// © 2025 stripecache authors. MIT License.

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Voskan/stripecache/internal/coro"
)

// serveCoro runs the engine on the calling goroutine and accepts on a side
// goroutine, posting every new socket into the engine.
func (s *Server) serveCoro(ctx context.Context) error {
	eng := coro.New(s.cfg.Logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(func(nc net.Conn) {
			s.track(nc)
			eng.Post(func() {
				startCoroConn(eng, s, nc)
			})
		})
	})

	// The sentry routine holds the engine open until shutdown: without it
	// Run would return as soon as the last connection drained.
	eng.Run(func() {
		sentry := eng.Current()
		stopped := false
		go func() {
			<-ctx.Done()
			eng.Post(func() {
				stopped = true
				eng.Unblock(sentry)
			})
		}()
		for !stopped {
			eng.Block(nil)
		}
	})

	return g.Wait()
}

// coroConn is one connection's state. All fields except rwc are engine
// thread only.
type coroConn struct {
	eng *coro.Engine
	srv *Server
	rwc net.Conn
	log *zap.Logger

	rd *coro.Routine
	wr *coro.Routine

	sess   session
	inbox  [][]byte
	outbox net.Buffers

	running  bool
	readEOF  bool
	readErr  error
	readDone bool
}

func startCoroConn(eng *coro.Engine, s *Server, nc net.Conn) {
	c := &coroConn{
		eng:     eng,
		srv:     s,
		rwc:     nc,
		log:     s.log.With(zap.String("remote", nc.RemoteAddr().String())),
		running: true,
	}
	c.sess.st = s.st
	c.rd = eng.Go(c.readRoutine)
	c.wr = eng.Go(c.writeRoutine)
	go c.pump()
	c.log.Debug("connection started")
}

// pump performs the blocking socket reads and converts them into readiness
// events on the engine thread. It is the only part of the connection living
// off the engine.
func (c *coroConn) pump() {
	buf := make([]byte, readBufSize)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			c.eng.Post(func() {
				c.inbox = append(c.inbox, chunk)
				c.eng.Unblock(c.rd)
			})
		}
		if err != nil {
			readErr := err
			c.eng.Post(func() {
				c.readEOF = true
				if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
					c.readErr = readErr
				}
				c.eng.Unblock(c.rd)
				c.eng.Unblock(c.wr)
			})
			return
		}
	}
}

// readRoutine drains the inbox through the session, blocking itself when no
// chunk is pending.
func (c *coroConn) readRoutine() {
	for c.running {
		if len(c.inbox) == 0 {
			if c.readEOF {
				break
			}
			c.eng.Block(nil)
			continue
		}
		chunk := c.inbox[0]
		c.inbox = c.inbox[1:]

		replies, err := c.sess.consume(chunk)
		for _, r := range replies {
			c.outbox = append(c.outbox, r)
		}
		if err != nil {
			c.log.Warn("protocol error", zap.Error(err))
			c.running = false
		}
		if len(c.outbox) > 0 {
			c.eng.Unblock(c.wr)
		}
	}

	if c.readErr != nil {
		c.log.Error("connection error", zap.Error(c.readErr))
	} else {
		c.log.Debug("connection closed")
	}
	c.readDone = true
	c.eng.Unblock(c.wr)
}

// writeRoutine flushes the outbox, blocking itself while it is empty. It
// owns connection teardown: the socket closes once the read side is done
// and every reply has been written.
func (c *coroConn) writeRoutine() {
	for {
		if len(c.outbox) == 0 {
			if c.readDone || !c.running {
				break
			}
			c.eng.Block(nil)
			continue
		}
		bufs := c.outbox
		c.outbox = nil
		if _, err := bufs.WriteTo(c.rwc); err != nil {
			c.log.Error("write failed", zap.Error(err))
			c.running = false
			break
		}
	}
	c.rwc.Close()
	c.srv.untrack(c.rwc)
}
