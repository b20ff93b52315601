// Package server assembles the cache server around the storage contract: a
// TCP listener plus two interchangeable connection engines. The pool variant
// executes connection work on the elastic executor, serialising each
// connection with its own mutex; the coroutine variant drives every
// connection with a pair of cooperative routines on a single engine thread.
//
// © 2025 stripecache authors. MIT License.
package server

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Voskan/stripecache/internal/protocol"
	cache "github.com/Voskan/stripecache/pkg"
)

// session is the protocol state of one connection, shared by both server
// variants. It is not self-synchronised: the pool variant guards it with the
// connection mutex, the coroutine variant touches it from the engine thread
// only.
//
// A single chunk of input may complete several commands; consume runs them
// all and collects the framed replies.
type session struct {
	st cache.Storage

	parser     protocol.Parser
	cmd        protocol.Command
	argRemains int // payload bytes still owed, including trailing CRLF
	argument   []byte
	pending    []byte
}

var crlf = []byte("\r\n")

// consume feeds one chunk through the parse/fill/execute cycle and returns
// the replies produced, each CRLF-terminated. A non-nil error means the
// stream is unrecoverable; the last reply already carries the error line and
// the connection must close after flushing.
func (s *session) consume(data []byte) ([][]byte, error) {
	s.pending = append(s.pending, data...)
	var replies [][]byte

	for len(s.pending) > 0 {
		// There is no command yet: keep parsing the command line.
		if s.cmd == nil {
			parsed, done, err := s.parser.Parse(s.pending)
			if errors.Is(err, protocol.ErrUnknownCommand) {
				// The line was swallowed whole; answer ERROR and move on to
				// the next command.
				s.pending = s.pending[parsed:]
				s.parser.Reset()
				replies = append(replies, framed("ERROR"))
				continue
			}
			if err != nil {
				replies = append(replies, framed(fmt.Sprintf("CLIENT_ERROR %v", err)))
				return replies, err
			}
			s.pending = s.pending[parsed:]
			if !done {
				break
			}
			var argLen int
			s.cmd, argLen = s.parser.Build()
			if argLen >= 0 {
				// Payload framing always includes the trailing CRLF, even
				// for an empty value.
				s.argRemains = argLen + len(crlf)
			} else {
				s.argRemains = 0
			}
		}

		// There is a command, but we still wait for its payload to arrive.
		if s.argRemains > 0 {
			n := min(s.argRemains, len(s.pending))
			s.argument = append(s.argument, s.pending[:n]...)
			s.pending = s.pending[n:]
			s.argRemains -= n
			if s.argRemains > 0 {
				break
			}
		}

		// Command and payload are complete – run it.
		args := s.argument
		if len(args) > 0 {
			if !bytes.HasSuffix(args, crlf) {
				err := fmt.Errorf("%w: bad data chunk", protocol.ErrParse)
				replies = append(replies, framed("CLIENT_ERROR bad data chunk"))
				return replies, err
			}
			args = args[:len(args)-len(crlf)]
		}
		reply := s.cmd.Execute(s.st, args)
		replies = append(replies, append(reply, crlf...))

		// Prepare for the next command.
		s.cmd = nil
		s.argument = s.argument[:0]
		s.parser.Reset()
	}
	return replies, nil
}

func framed(line string) []byte {
	return append([]byte(line), crlf...)
}
