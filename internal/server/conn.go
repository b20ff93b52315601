package server

// conn.go is the pool-variant connection. A pump goroutine blocks on the
// socket and hands each chunk to the executor; doRead parses and executes,
// doWrite flushes. Both run under the connection mutex, so reads and writes
// of one connection are serialised no matter which worker picks them up,
// and the pump waits for each chunk's task before reading the next – the
// parsed command stream of a connection is a single sequential history.
//
// © 2025 stripecache authors. MIT License.

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Voskan/stripecache/internal/executor"
)

const readBufSize = 4096

type poolConn struct {
	srv  *Server
	exec *executor.Executor
	rwc  net.Conn
	log  *zap.Logger

	running atomic.Bool

	mu   sync.Mutex
	sess session
	out  net.Buffers
}

func newPoolConn(s *Server, exec *executor.Executor, nc net.Conn) *poolConn {
	c := &poolConn{
		srv:  s,
		exec: exec,
		rwc:  nc,
		log:  s.log.With(zap.String("remote", nc.RemoteAddr().String())),
	}
	c.sess.st = s.st
	c.running.Store(true)
	c.log.Debug("connection started")
	return c
}

// serve is the read pump. It owns the socket read side for the connection's
// whole life.
func (c *poolConn) serve() {
	defer func() {
		c.rwc.Close()
		c.srv.untrack(c.rwc)
	}()

	buf := make([]byte, readBufSize)
	for c.running.Load() {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			done := make(chan struct{})
			serr := c.exec.Submit(func() {
				defer close(done)
				c.doRead(chunk)
				c.doWrite()
			})
			if serr != nil {
				c.onBusy(serr)
				return
			}
			<-done
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.onClose()
			case errors.Is(err, net.ErrClosed):
				// Server shutdown closed the socket under us.
				c.running.Store(false)
			default:
				c.onError(err)
			}
			return
		}
	}
}

// doRead feeds one chunk through the session. A protocol error queues the
// error reply and marks the connection for teardown after the flush.
func (c *poolConn) doRead(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return
	}
	replies, err := c.sess.consume(chunk)
	for _, r := range replies {
		c.out = append(c.out, r)
	}
	if err != nil {
		c.log.Warn("protocol error", zap.Error(err))
		c.running.Store(false)
	}
}

// doWrite flushes everything queued so far.
func (c *poolConn) doWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) == 0 {
		return
	}
	if _, err := c.out.WriteTo(c.rwc); err != nil {
		c.log.Error("write failed", zap.Error(err))
		c.running.Store(false)
	}
	c.out = c.out[:0]
}

// onBusy answers queue saturation. The chunk that could not be scheduled is
// lost, so the stream cannot continue; tell the client and drop the
// connection.
func (c *poolConn) onBusy(err error) {
	c.log.Warn("dropping connection", zap.Error(err))
	c.mu.Lock()
	_, _ = c.rwc.Write(framed("SERVER_ERROR busy"))
	c.mu.Unlock()
	c.running.Store(false)
}

func (c *poolConn) onClose() {
	c.running.Store(false)
	c.log.Debug("connection closed")
}

func (c *poolConn) onError(err error) {
	c.running.Store(false)
	c.log.Error("connection error", zap.Error(err))
}
