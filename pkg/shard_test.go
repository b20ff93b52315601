package cache

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShard(maxBytes int64) *shard {
	return newShard(maxBytes, noopMetrics{}, 0)
}

// checkInvariants walks the ring and cross-checks it against the index and
// the byte counter.
func checkInvariants(t *testing.T, s *shard) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var bytes int64
	count := 0
	for n := s.sentinel.next; n != s.sentinel; n = n.next {
		require.Equal(t, n, n.next.prev, "ring link broken at %q", n.key)
		require.Equal(t, n, n.prev.next, "ring link broken at %q", n.key)
		indexed, ok := s.index[n.key]
		require.True(t, ok, "listed node %q missing from index", n.key)
		require.Same(t, n, indexed)
		bytes += int64(len(n.key) + len(n.value))
		count++
	}
	require.Equal(t, len(s.index), count, "index and list disagree on size")
	require.Equal(t, s.curBytes, bytes, "byte counter out of sync")
	require.LessOrEqual(t, s.curBytes, s.maxBytes, "shard over budget")
}

func TestShardEvictionOrder(t *testing.T) {
	s := newTestShard(10)
	for _, kv := range []struct{ k, v string }{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"},
	} {
		require.True(t, s.put(kv.k, []byte(kv.v)))
	}
	require.Equal(t, int64(10), s.sizeBytes())
	require.Equal(t, 5, s.len())

	// The sixth entry displaces the least recently used one.
	require.True(t, s.put("f", []byte("6")))
	_, ok := s.get("a")
	assert.False(t, ok, "a should have been evicted")
	v, ok := s.get("f")
	require.True(t, ok)
	assert.Equal(t, []byte("6"), v)
	checkInvariants(t, s)
}

func TestShardGetPromotes(t *testing.T) {
	s := newTestShard(10)
	for _, kv := range []struct{ k, v string }{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"},
	} {
		require.True(t, s.put(kv.k, []byte(kv.v)))
	}

	// Touching "a" moves it to MRU; the next eviction hits "b" instead.
	v, ok := s.get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	require.True(t, s.put("f", []byte("6")))
	_, ok = s.get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = s.get("a")
	assert.True(t, ok, "a was promoted and must survive")
	checkInvariants(t, s)
}

func TestShardOversizedRejected(t *testing.T) {
	s := newTestShard(4)
	require.False(t, s.put("hello", []byte("world")))
	require.False(t, s.putIfAbsent("hello", []byte("world")))
	require.False(t, s.set("hello", []byte("world")))
	assert.Equal(t, 0, s.len())
	assert.Equal(t, int64(0), s.sizeBytes())
	checkInvariants(t, s)
}

func TestShardSetNeverEvictsItself(t *testing.T) {
	s := newTestShard(10)
	require.True(t, s.put("k", []byte("v")))
	require.True(t, s.put("a", []byte("1")))
	require.True(t, s.put("b", []byte("2")))
	require.True(t, s.put("c", []byte("3")))

	// Growing k's value forces eviction of everything else, never of k.
	require.True(t, s.set("k", []byte("123456789")))
	v, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("123456789"), v)
	assert.Equal(t, 1, s.len())
	checkInvariants(t, s)
}

func TestShardSetReleasesOldBytesFirst(t *testing.T) {
	s := newTestShard(10)
	require.True(t, s.put("k", []byte("12345678"))) // 9 bytes charged
	// The replacement fits only because the old value is released before
	// pressure is computed.
	require.True(t, s.set("k", []byte("abcdefgh")))
	assert.Equal(t, int64(9), s.sizeBytes())
	checkInvariants(t, s)
}

func TestShardPutIfAbsent(t *testing.T) {
	s := newTestShard(64)
	require.True(t, s.putIfAbsent("k", []byte("v1")))
	require.False(t, s.putIfAbsent("k", []byte("v2")))
	v, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v, "putIfAbsent on hit must not modify")
}

func TestShardSetMissAndDelete(t *testing.T) {
	s := newTestShard(64)
	require.False(t, s.set("ghost", []byte("v")))
	require.False(t, s.del("ghost"))

	require.True(t, s.put("k", []byte("v")))
	require.True(t, s.del("k"))
	require.False(t, s.del("k"))
	assert.Equal(t, int64(0), s.sizeBytes())
	checkInvariants(t, s)
}

func TestShardEmptyKeyAndValue(t *testing.T) {
	s := newTestShard(64)
	require.True(t, s.put("", []byte("value")))
	require.True(t, s.put("key", nil))

	v, ok := s.get("")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), v)

	v, ok = s.get("key")
	require.True(t, ok)
	assert.Empty(t, v)
	checkInvariants(t, s)
}

func TestShardBinaryData(t *testing.T) {
	s := newTestShard(64)
	key := "k\x00ey"
	val := []byte{0, 1, 2, 255, 0}
	require.True(t, s.put(key, val))
	v, ok := s.get(key)
	require.True(t, ok)
	assert.Equal(t, val, v)
}

// TestShardRandomOps hammers one shard with a random operation mix and
// re-validates the structural invariants after every step.
func TestShardRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := newTestShard(256)

	keys := make([]string, 16)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%02d", i)
	}

	for i := 0; i < 2000; i++ {
		key := keys[rng.Intn(len(keys))]
		val := make([]byte, rng.Intn(24))
		switch rng.Intn(5) {
		case 0:
			s.put(key, val)
		case 1:
			s.putIfAbsent(key, val)
		case 2:
			s.set(key, val)
		case 3:
			s.get(key)
		case 4:
			s.del(key)
		}
		if i%100 == 0 {
			checkInvariants(t, s)
		}
	}
	checkInvariants(t, s)
}
