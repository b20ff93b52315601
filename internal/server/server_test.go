package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/Voskan/stripecache/pkg"
)

// startServer runs a server of the given mode on a loopback port and tears
// it down with the test.
func startServer(t *testing.T, mode Mode) *Server {
	t.Helper()
	st, err := cache.New(1 << 20)
	require.NoError(t, err)

	srv, err := New(Config{
		Addr:     "127.0.0.1:0",
		Mode:     mode,
		IdleTime: 100 * time.Millisecond,
	}, st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv
}

type client struct {
	t  *testing.T
	nc net.Conn
	rd *bufio.Reader
}

func dialServer(t *testing.T, srv *Server) *client {
	t.Helper()
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })
	return &client{t: t, nc: nc, rd: bufio.NewReader(nc)}
}

func (c *client) send(format string, args ...any) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.nc, format, args...)
	require.NoError(c.t, err)
}

func (c *client) expect(lines ...string) {
	c.t.Helper()
	for _, want := range lines {
		c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
		got, err := c.rd.ReadString('\n')
		require.NoError(c.t, err)
		require.Equal(c.t, want+"\r\n", got)
	}
}

func testProtocolFlow(t *testing.T, mode Mode) {
	srv := startServer(t, mode)
	c := dialServer(t, srv)

	c.send("set greeting 0 0 5\r\nhello\r\n")
	c.expect("STORED")

	c.send("get greeting\r\n")
	c.expect("VALUE greeting 0 5", "hello", "END")

	c.send("add greeting 0 0 3\r\nnew\r\n")
	c.expect("NOT_STORED")

	c.send("replace greeting 0 0 3\r\nnew\r\n")
	c.expect("STORED")

	c.send("append greeting 0 0 2\r\n!!\r\n")
	c.expect("STORED")

	c.send("prepend greeting 0 0 2\r\n>>\r\n")
	c.expect("STORED")

	c.send("get greeting\r\n")
	c.expect("VALUE greeting 0 7", ">>new!!", "END")

	c.send("delete greeting\r\n")
	c.expect("DELETED")

	c.send("delete greeting\r\n")
	c.expect("NOT_FOUND")

	c.send("get greeting\r\n")
	c.expect("END")
}

func TestServerPoolProtocolFlow(t *testing.T) { testProtocolFlow(t, ModePool) }
func TestServerCoroProtocolFlow(t *testing.T) { testProtocolFlow(t, ModeCoro) }

func testUnknownCommandReplies(t *testing.T, mode Mode) {
	srv := startServer(t, mode)
	c := dialServer(t, srv)

	// An unknown verb gets a bare ERROR; the connection stays usable.
	c.send("frobnicate everything\r\n")
	c.expect("ERROR")

	c.send("set k 0 0 1\r\nx\r\n")
	c.expect("STORED")
}

func TestServerPoolUnknownCommandReplies(t *testing.T) { testUnknownCommandReplies(t, ModePool) }
func TestServerCoroUnknownCommandReplies(t *testing.T) { testUnknownCommandReplies(t, ModeCoro) }

func testMalformedCommandCloses(t *testing.T, mode Mode) {
	srv := startServer(t, mode)
	c := dialServer(t, srv)

	c.send("set k 0 0\r\n")
	c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.rd.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "CLIENT_ERROR")

	// After a framing error the server drops the connection.
	_, err = c.rd.ReadString('\n')
	assert.Error(t, err)
}

func TestServerPoolMalformedCommandCloses(t *testing.T) { testMalformedCommandCloses(t, ModePool) }
func TestServerCoroMalformedCommandCloses(t *testing.T) { testMalformedCommandCloses(t, ModeCoro) }

func testConcurrentClients(t *testing.T, mode Mode) {
	srv := startServer(t, mode)

	const clients = 8
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func(id int) {
			nc, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				errs <- err
				return
			}
			defer nc.Close()
			rd := bufio.NewReader(nc)

			for op := 0; op < 50; op++ {
				key := fmt.Sprintf("c%d-k%d", id, op)
				val := fmt.Sprintf("value-%d", op)
				fmt.Fprintf(nc, "set %s 0 0 %d\r\n%s\r\n", key, len(val), val)
				if line, err := rd.ReadString('\n'); err != nil || line != "STORED\r\n" {
					errs <- fmt.Errorf("set %s: %q %v", key, line, err)
					return
				}
				fmt.Fprintf(nc, "get %s\r\n", key)
				for j := 0; j < 3; j++ {
					if _, err := rd.ReadString('\n'); err != nil {
						errs <- fmt.Errorf("get %s: %v", key, err)
						return
					}
				}
			}
			errs <- nil
		}(i)
	}

	for i := 0; i < clients; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("client timed out")
		}
	}
}

func TestServerPoolConcurrentClients(t *testing.T) { testConcurrentClients(t, ModePool) }
func TestServerCoroConcurrentClients(t *testing.T) { testConcurrentClients(t, ModeCoro) }

func TestServerRejectsUnknownMode(t *testing.T) {
	st, err := cache.New(1 << 20)
	require.NoError(t, err)
	_, err = New(Config{Addr: "127.0.0.1:0", Mode: "bogus"}, st)
	assert.ErrorIs(t, err, errUnknownMode)
}

func TestServerShutdownClosesClients(t *testing.T) {
	st, err := cache.New(1 << 20)
	require.NoError(t, err)
	srv, err := New(Config{Addr: "127.0.0.1:0", Mode: ModePool}, st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	// Prove the connection is live before shutdown.
	fmt.Fprintf(nc, "set k 0 0 1\r\nx\r\n")
	rd := bufio.NewReader(nc)
	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	// The server closed its side; reads drain to EOF or reset.
	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = rd.ReadString('\n')
	assert.Error(t, err)
}
