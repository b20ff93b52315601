package protocol

// command.go holds the executable side of the protocol. A Command carries
// its parsed arguments; Execute runs it against the storage contract and
// returns the reply body without the trailing CRLF (the connection appends
// framing).
//
// Flags are accepted on the wire but not persisted: the store keeps raw
// bytes only, so get always answers with flags 0. Exptime is validated and
// ignored – entries carry no TTL.
//
// © 2025 stripecache authors. MIT License.

import (
	"strconv"

	cache "github.com/Voskan/stripecache/pkg"
)

// Replies shared by the storage commands.
const (
	replyStored    = "STORED"
	replyNotStored = "NOT_STORED"
	replyDeleted   = "DELETED"
	replyNotFound  = "NOT_FOUND"
	replyEnd       = "END"
)

// Command is one parsed request. args is the payload for storage commands
// and empty otherwise.
type Command interface {
	Execute(st cache.Storage, args []byte) []byte
}

// storeCommand covers the five payload-carrying verbs.
type storeCommand struct {
	verb  string
	key   string
	flags uint32
}

func (c *storeCommand) Execute(st cache.Storage, args []byte) []byte {
	var ok bool
	switch c.verb {
	case "set":
		ok = st.Put(c.key, args)
	case "add":
		ok = st.PutIfAbsent(c.key, args)
	case "replace":
		ok = st.Set(c.key, args)
	case "append":
		if old, hit := st.Get(c.key); hit {
			ok = st.Set(c.key, append(old, args...))
		}
	case "prepend":
		if old, hit := st.Get(c.key); hit {
			ok = st.Set(c.key, append(append([]byte(nil), args...), old...))
		}
	}
	if ok {
		return []byte(replyStored)
	}
	return []byte(replyNotStored)
}

// getCommand answers VALUE blocks for every hit, terminated by END.
type getCommand struct {
	keys []string
}

func (c *getCommand) Execute(st cache.Storage, _ []byte) []byte {
	var out []byte
	for _, key := range c.keys {
		value, ok := st.Get(key)
		if !ok {
			continue
		}
		out = append(out, "VALUE "...)
		out = append(out, key...)
		out = append(out, " 0 "...)
		out = strconv.AppendInt(out, int64(len(value)), 10)
		out = append(out, '\r', '\n')
		out = append(out, value...)
		out = append(out, '\r', '\n')
	}
	return append(out, replyEnd...)
}

type deleteCommand struct {
	key string
}

func (c *deleteCommand) Execute(st cache.Storage, _ []byte) []byte {
	if st.Delete(c.key) {
		return []byte(replyDeleted)
	}
	return []byte(replyNotFound)
}
