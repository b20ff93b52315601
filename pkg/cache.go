package cache

// cache.go is the public face of stripecache's storage layer: a striped,
// byte-bounded LRU keyed by string. Each key is routed to exactly one shard
// by a stable 64-bit hash, so atomicity is per-key and no operation ever
// holds two shard locks.
//
// The Storage interface below is the contract consumed by command execution
// in internal/protocol; the server never touches shards directly.
//
// © 2025 stripecache authors. MIT License.

import (
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Storage is the five-operation contract of the cache. Every operation is
// atomic with respect to its key and never fails partially. A false return
// means either an oversized pair (Put*, Set) or a precondition miss
// (PutIfAbsent on hit, Set/Delete/Get on miss).
type Storage interface {
	// Put inserts or overwrites.
	Put(key string, value []byte) bool

	// PutIfAbsent inserts only when the key is missing.
	PutIfAbsent(key string, value []byte) bool

	// Set overwrites only when the key is present.
	Set(key string, value []byte) bool

	// Get returns a copy of the value on hit.
	Get(key string) ([]byte, bool)

	// Delete removes the key on hit.
	Delete(key string) bool
}

// Cache is a striped LRU store implementing Storage. Safe for concurrent use
// by any number of goroutines; operations on different shards run fully in
// parallel.
type Cache struct {
	shards []*shard
	log    *zap.Logger
}

var _ Storage = (*Cache)(nil)

// New creates a cache bounded by capBytes total. The byte budget is divided
// evenly between the shards (default 4, override via WithShards).
func New(capBytes int64, opts ...Option) (*Cache, error) {
	cfg := defaultConfig(capBytes)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	sink := newMetricsSink(cfg.shards, cfg.registry)
	c := &Cache{
		shards: make([]*shard, cfg.shards),
		log:    cfg.logger,
	}
	perShard := capBytes / int64(cfg.shards)
	for i := range c.shards {
		c.shards[i] = newShard(perShard, sink, uint8(i))
	}

	c.log.Debug("cache created",
		zap.Int64("cap_bytes", capBytes),
		zap.Int("shards", cfg.shards))
	return c, nil
}

// Put inserts or overwrites a value.
func (c *Cache) Put(key string, value []byte) bool {
	return c.shardFor(key).put(key, value)
}

// PutIfAbsent inserts a value only if the key is absent.
func (c *Cache) PutIfAbsent(key string, value []byte) bool {
	return c.shardFor(key).putIfAbsent(key, value)
}

// Set overwrites a value only if the key is present.
func (c *Cache) Set(key string, value []byte) bool {
	return c.shardFor(key).set(key, value)
}

// Get retrieves a value.
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.shardFor(key).get(key)
}

// Delete removes a value.
func (c *Cache) Delete(key string) bool {
	return c.shardFor(key).del(key)
}

// Len returns the total number of items across shards.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.len()
	}
	return total
}

// SizeBytes returns the total charged bytes across shards.
func (c *Cache) SizeBytes() int64 {
	total := int64(0)
	for _, s := range c.shards {
		total += s.sizeBytes()
	}
	return total
}

// Stats is a point-in-time aggregate over all shards, exposed on the debug
// snapshot endpoint.
type Stats struct {
	Hits      uint64 `json:"hits_total"`
	Misses    uint64 `json:"misses_total"`
	Evictions uint64 `json:"evictions_total"`
	Items     int    `json:"items"`
	Bytes     int64  `json:"bytes"`
}

// Snapshot aggregates per-shard counters.
func (c *Cache) Snapshot() Stats {
	var st Stats
	for _, s := range c.shards {
		h, m, e := s.statsSnapshot()
		st.Hits += h
		st.Misses += m
		st.Evictions += e
		st.Items += s.len()
		st.Bytes += s.sizeBytes()
	}
	return st
}

// shardFor routes a key to its shard by stable hash.
func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}
