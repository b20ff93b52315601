package main

// stripecache-inspect reads runtime statistics out of a stripecached debug
// listener. One-shot by default, periodic with -watch, and it can pull pprof
// profiles for offline analysis.
//
// Expected endpoints on the target:
//   • GET /debug/stripecache/snapshot – JSON cache statistics.
//   • GET /debug/pprof/{heap,goroutine} – standard pprof handlers.
//
// © 2025 stripecache authors. MIT License.

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var version = "dev"

const snapshotPath = "/debug/stripecache/snapshot"

// snapshot mirrors the fields of cache.Stats as served by stripecached.
// Unknown fields are ignored so the CLI tolerates newer servers.
type snapshot struct {
	Hits      uint64 `json:"hits_total"`
	Misses    uint64 `json:"misses_total"`
	Evictions uint64 `json:"evictions_total"`
	Items     int    `json:"items"`
	Bytes     int64  `json:"bytes"`
}

// inspector bundles the target base URL with the HTTP client so every
// subcommand shares one timeout policy.
type inspector struct {
	base   string
	client *http.Client
}

func main() {
	var (
		target       = flag.String("target", "http://127.0.0.1:8090", "base URL of the stripecached debug listener")
		asJSON       = flag.Bool("json", false, "emit the raw snapshot JSON instead of pretty text")
		watch        = flag.Duration("watch", 0, "re-dump at this interval until interrupted (0 disables)")
		heapOut      = flag.String("heap", "", "download a heap profile to the given path and exit")
		goroutineOut = flag.String("goroutine", "", "download a goroutine profile to the given path and exit")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ins := &inspector{
		base:   strings.TrimRight(*target, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}

	var err error
	switch {
	case *heapOut != "":
		err = ins.saveProfile("heap", *heapOut)
	case *goroutineOut != "":
		err = ins.saveProfile("goroutine", *goroutineOut)
	case *watch > 0:
		err = ins.watch(*watch, *asJSON)
	default:
		err = ins.dump(os.Stdout, *asJSON)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "stripecache-inspect:", err)
		os.Exit(1)
	}
}

// watch dumps on a ticker until SIGINT/SIGTERM. Individual dump failures are
// reported but do not end the loop; the target may just be restarting.
func (ins *inspector) watch(interval time.Duration, asJSON bool) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if err := ins.dump(os.Stdout, asJSON); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		select {
		case <-interrupt:
			return nil
		case <-tick.C:
		}
	}
}

// dump fetches the snapshot and renders it to w. In JSON mode the server
// payload is passed through untouched.
func (ins *inspector) dump(w io.Writer, asJSON bool) error {
	body, err := ins.get(snapshotPath)
	if err != nil {
		return err
	}
	defer body.Close()

	if asJSON {
		_, err := io.Copy(w, body)
		return err
	}

	var snap snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	lookups := snap.Hits + snap.Misses
	rate := 0.0
	if lookups > 0 {
		rate = 100 * float64(snap.Hits) / float64(lookups)
	}
	fmt.Fprintf(w, "Hits:      %d\n", snap.Hits)
	fmt.Fprintf(w, "Misses:    %d\n", snap.Misses)
	fmt.Fprintf(w, "Hit rate:  %.1f%%\n", rate)
	fmt.Fprintf(w, "Evictions: %d\n", snap.Evictions)
	fmt.Fprintf(w, "Items:     %d\n", snap.Items)
	fmt.Fprintf(w, "Bytes:     %.2f KiB\n", float64(snap.Bytes)/1024)
	return nil
}

// saveProfile streams one pprof profile into a local file.
func (ins *inspector) saveProfile(kind, path string) error {
	body, err := ins.get("/debug/pprof/" + kind)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", kind, path)
	return nil
}

// get performs one GET against the target and hands back the body on 200.
func (ins *inspector) get(path string) (io.ReadCloser, error) {
	res, err := ins.client.Get(ins.base + path)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", path, res.Status)
	}
	return res.Body, nil
}
