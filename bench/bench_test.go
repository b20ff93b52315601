// Package bench provides reproducible micro-benchmarks for stripecache.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single key/value shape so results are
// comparable across versions:
//   • Key   – "key-%07d" strings over a 1M key-space
//   • Value – 64 bytes
//
// We measure:
//   1. Put         – write-only workload
//   2. Get         – read-only workload (after warm-up)
//   3. GetParallel – highly concurrent reads (b.RunParallel)
//   4. Mixed       – 90% gets, 10% puts
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is *only* for performance.
//
// © 2025 stripecache authors. MIT License.

package bench

import (
	"fmt"
	"math/rand"
	"testing"

	cache "github.com/Voskan/stripecache/pkg"
)

const (
	capBytes = 64 << 20
	shards   = 16
	keySpace = 1 << 20
)

var value = make([]byte, 64)

func newBenchCache(b *testing.B) *cache.Cache {
	b.Helper()
	c, err := cache.New(capBytes, cache.WithShards(shards))
	if err != nil {
		b.Fatal(err)
	}
	return c
}

func key(i int) string { return fmt.Sprintf("key-%07d", i%keySpace) }

func BenchmarkPut(b *testing.B) {
	c := newBenchCache(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(key(i), value)
	}
}

func BenchmarkGet(b *testing.B) {
	c := newBenchCache(b)
	for i := 0; i < keySpace/8; i++ {
		c.Put(key(i), value)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(key(i % (keySpace / 8)))
	}
}

func BenchmarkGetParallel(b *testing.B) {
	c := newBenchCache(b)
	for i := 0; i < keySpace/8; i++ {
		c.Put(key(i), value)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(1))
		for pb.Next() {
			c.Get(key(rng.Intn(keySpace / 8)))
		}
	})
}

func BenchmarkMixed(b *testing.B) {
	c := newBenchCache(b)
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(2))
		for pb.Next() {
			k := key(rng.Intn(keySpace / 8))
			if rng.Intn(10) == 0 {
				c.Put(k, value)
			} else {
				c.Get(k)
			}
		}
	})
}
