package main

// loadgen drives a running stripecached instance over TCP with a randomized
// set/get mix. It is a smoke and soak tool, not a benchmark: it checks that
// every reply is well-formed and reports the achieved rate, nothing more.
//
// Run:
//   go run ./tools/loadgen -addr 127.0.0.1:11211 -conns 8 -ops 100000
//
// © 2025 stripecache authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:11211", "server address")
		conns     = flag.Int("conns", 4, "concurrent connections")
		ops       = flag.Int("ops", 100000, "operations per connection")
		keys      = flag.Int("keys", 10000, "distinct keys")
		valueSize = flag.Int("value-size", 64, "value payload bytes")
		setRatio  = flag.Float64("set-ratio", 0.2, "fraction of operations that are sets")
	)
	flag.Parse()

	payload := strings.Repeat("x", *valueSize)
	var sets, gets, hits atomic.Int64

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < *conns; i++ {
		seed := int64(i + 1)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			nc, err := net.Dial("tcp", *addr)
			if err != nil {
				return err
			}
			defer nc.Close()
			rd := bufio.NewReader(nc)

			for op := 0; op < *ops; op++ {
				key := fmt.Sprintf("key-%d", rng.Intn(*keys))
				if rng.Float64() < *setRatio {
					fmt.Fprintf(nc, "set %s 0 0 %d\r\n%s\r\n", key, len(payload), payload)
					line, err := rd.ReadString('\n')
					if err != nil {
						return err
					}
					if !strings.HasPrefix(line, "STORED") {
						return fmt.Errorf("unexpected set reply %q", line)
					}
					sets.Add(1)
					continue
				}

				fmt.Fprintf(nc, "get %s\r\n", key)
				hit := false
				for {
					line, err := rd.ReadString('\n')
					if err != nil {
						return err
					}
					if strings.HasPrefix(line, "END") {
						break
					}
					if strings.HasPrefix(line, "VALUE ") {
						hit = true
						// the payload line follows the VALUE header
						if _, err := rd.ReadString('\n'); err != nil {
							return err
						}
						continue
					}
					return fmt.Errorf("unexpected get reply %q", line)
				}
				gets.Add(1)
				if hit {
					hits.Add(1)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "loadgen:", err)
		os.Exit(1)
	}

	elapsed := time.Since(start)
	total := sets.Load() + gets.Load()
	fmt.Printf("ops:      %d in %s (%.0f op/s)\n", total, elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds())
	fmt.Printf("sets:     %d\n", sets.Load())
	fmt.Printf("gets:     %d (%.1f%% hit)\n", gets.Load(),
		100*float64(hits.Load())/float64(max(gets.Load(), 1)))
}
