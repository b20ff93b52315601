package cache

// config.go defines the internal configuration object and the set of
// functional options that can be passed to New.
//
// Design notes
// ------------
// • All fields are initialised with sensible defaults in defaultConfig().
// • Options never allocate unless strictly necessary – they just capture
//   pointers to external objects (registry, logger …).
// • We hide the struct from public API: users can only influence behaviour
//   via Option. This guarantees forward compatibility.
//
// © 2025 stripecache authors. MIT License.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option is the functional option passed to New.
type Option func(*config)

// config bundles every knob that influences cache behaviour. All fields are
// immutable once the Cache is constructed.
type config struct {
	capBytes int64
	shards   int

	registry *prometheus.Registry
	logger   *zap.Logger
}

const defaultShards = 4

func defaultConfig(capBytes int64) *config {
	return &config{
		capBytes: capBytes,
		shards:   defaultShards,
		logger:   zap.NewNop(),
		registry: nil, // user must opt-in to metrics
	}
}

/*
   ---------------- Functional options exposed to users ----------------
*/

// WithShards overrides the number of stripes the key-space is split into.
func WithShards(n int) Option {
	return func(c *config) {
		c.shards = n
	}
}

// WithMetrics enables Prometheus metrics collection for the cache instance.
// Passing nil disables metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path; only construction events are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

/*
   ---------------- Helper: apply options & validate ----------------
*/

// applyOptions copies user-supplied options into cfg and validates
// invariants.
func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}

	// Validation – bail out early with descriptive error.
	if cfg.capBytes <= 0 {
		return errInvalidCap
	}
	if cfg.shards <= 0 || cfg.shards > 256 {
		return errInvalidShards
	}
	if cfg.capBytes/int64(cfg.shards) <= 0 {
		return errCapBelowShards
	}
	return nil
}

/*
   ---------------- Error values ----------------
*/

var (
	errInvalidCap     = errors.New("capacity bytes must be > 0")
	errInvalidShards  = errors.New("shards must be in 1..256")
	errCapBelowShards = errors.New("capacity bytes must cover at least one byte per shard")
)
