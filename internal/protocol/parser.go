// Package protocol implements the line-oriented cache protocol: an
// incremental parser for CRLF-terminated command lines and the command
// objects executed against the storage contract.
//
// The parser only deals with the command line; payload framing (<bytes> of
// data plus trailing CRLF) is the connection's job, exactly like the
// server's read loop expects. This split lets both server variants feed the
// parser from arbitrary chunk boundaries.
//
// © 2025 stripecache authors. MIT License.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrParse wraps a malformed request. The connection answers CLIENT_ERROR
// and closes; the stream cannot be re-synchronised after a framing error.
var ErrParse = errors.New("protocol: parse error")

// ErrUnknownCommand reports an unrecognised verb. Unlike ErrParse the whole
// line was consumed, so the connection answers a bare ERROR and the stream
// continues.
var ErrUnknownCommand = errors.New("protocol: unknown command")

// maxLineLen bounds a single command line. Longer lines are a framing error.
const maxLineLen = 2048

// Parser accumulates bytes until a full command line is available and then
// builds the corresponding Command.
type Parser struct {
	line []byte
	cmd  Command
	// payload bytes owed to the command, excluding the trailing CRLF;
	// -1 for commands that carry no payload at all
	argLen int
	done   bool
}

// Parse consumes input until a complete command line has been seen. It
// returns how many bytes were consumed; done reports whether a command is
// ready to Build. Parse never consumes payload bytes.
func (p *Parser) Parse(data []byte) (parsed int, done bool, err error) {
	if p.done {
		return 0, true, nil
	}
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		if len(p.line)+len(data) > maxLineLen {
			return 0, false, fmt.Errorf("%w: command line too long", ErrParse)
		}
		p.line = append(p.line, data...)
		return len(data), false, nil
	}

	p.line = append(p.line, data[:idx+1]...)
	if len(p.line) > maxLineLen {
		return 0, false, fmt.Errorf("%w: command line too long", ErrParse)
	}
	cmd, argLen, err := parseLine(bytes.TrimRight(p.line, "\r\n"))
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			// The offending line is fully consumed; report how much so the
			// caller can reply ERROR and keep the stream going.
			p.line = p.line[:0]
			return idx + 1, false, err
		}
		return 0, false, err
	}
	p.cmd, p.argLen, p.done = cmd, argLen, true
	return idx + 1, true, nil
}

// Build returns the parsed command and its payload length: zero or more for
// storage commands (the wire adds a trailing CRLF even to empty payloads),
// -1 for commands without payload. Valid only after Parse reported done.
func (p *Parser) Build() (Command, int) {
	return p.cmd, p.argLen
}

// Reset prepares the parser for the next command.
func (p *Parser) Reset() {
	p.line = p.line[:0]
	p.cmd = nil
	p.argLen = 0
	p.done = false
}

// parseLine tokenises one command line and constructs the command.
func parseLine(line []byte) (Command, int, error) {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, 0, fmt.Errorf("%w: empty command", ErrParse)
	}
	name := string(fields[0])

	switch name {
	case "set", "add", "replace", "append", "prepend":
		// <cmd> <key> <flags> <exptime> <bytes>
		if len(fields) != 5 {
			return nil, 0, fmt.Errorf("%w: %s expects 4 arguments", ErrParse, name)
		}
		flags, err := strconv.ParseUint(string(fields[2]), 10, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad flags", ErrParse)
		}
		if _, err := strconv.ParseInt(string(fields[3]), 10, 64); err != nil {
			return nil, 0, fmt.Errorf("%w: bad exptime", ErrParse)
		}
		size, err := strconv.ParseUint(string(fields[4]), 10, 31)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: bad bytes", ErrParse)
		}
		return &storeCommand{
			verb:  name,
			key:   string(fields[1]),
			flags: uint32(flags),
		}, int(size), nil

	case "get", "gets":
		if len(fields) < 2 {
			return nil, 0, fmt.Errorf("%w: get expects at least one key", ErrParse)
		}
		keys := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			keys = append(keys, string(f))
		}
		return &getCommand{keys: keys}, -1, nil

	case "delete":
		if len(fields) != 2 {
			return nil, 0, fmt.Errorf("%w: delete expects one key", ErrParse)
		}
		return &deleteCommand{key: string(fields[1])}, -1, nil

	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}
