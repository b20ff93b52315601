package main

// stripecached is the cache server daemon. It wires the striped LRU store,
// the chosen connection engine and the observability surface together:
//   • TCP cache protocol on -listen
//   • debug HTTP on -debug-listen with Prometheus /metrics,
//     /debug/stripecache/snapshot (JSON stats) and net/http/pprof
//
// Shutdown is signal driven: SIGINT/SIGTERM cancel the root context, the
// server closes its listener and connections, and main returns once both
// listeners have drained.
//
// © 2025 stripecache authors. MIT License.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Voskan/stripecache/internal/server"
	cache "github.com/Voskan/stripecache/pkg"
)

var version = "dev"

func main() {
	var (
		listen      = flag.String("listen", ":11211", "cache protocol listen address")
		debugListen = flag.String("debug-listen", ":8090", "debug HTTP listen address (empty disables)")
		mode        = flag.String("mode", "pool", "connection engine: pool or coro")
		capBytes    = flag.Int64("cap-bytes", 64<<20, "total byte budget across shards")
		shards      = flag.Int("shards", 4, "number of cache shards")
		low         = flag.Int("workers-low", 2, "resident pool workers (pool mode)")
		high        = flag.Int("workers-high", 8, "maximum pool workers (pool mode)")
		queue       = flag.Int("queue", 128, "pool task queue capacity (pool mode)")
		idle        = flag.Duration("idle", 3*time.Second, "excess worker idle time (pool mode)")
		dev         = flag.Bool("dev", false, "human-readable logging")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	log, err := buildLogger(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stripecached:", err)
		os.Exit(1)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	store, err := cache.New(*capBytes,
		cache.WithShards(*shards),
		cache.WithLogger(log),
		cache.WithMetrics(reg),
	)
	if err != nil {
		log.Fatal("cache init failed", zap.Error(err))
	}

	srv, err := server.New(server.Config{
		Addr:          *listen,
		Mode:          server.Mode(*mode),
		LowWatermark:  *low,
		HighWatermark: *high,
		MaxQueueSize:  *queue,
		IdleTime:      *idle,
		Logger:        log,
	}, store)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	if *debugListen != "" {
		debug := &http.Server{
			Addr:    *debugListen,
			Handler: debugMux(reg, store),
		}
		g.Go(func() error {
			err := debug.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return debug.Shutdown(shutCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatal("terminated", zap.Error(err))
	}
	log.Info("bye")
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func debugMux(reg *prometheus.Registry, store *cache.Cache) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/stripecache/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(store.Snapshot())
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
