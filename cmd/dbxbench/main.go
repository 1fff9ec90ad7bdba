// Command dbxbench drives a concurrent put/get workload against a DBX
// engine and reports throughput and latency percentiles, generalizing
// cmd/bundoc-bench's client/server workload generator to DBX's in-process
// embedding model: there is no server to dial, so each worker holds a
// *dbx.Engine handle directly instead of a client.Client connection.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kartikbazzad/dbx"
	"github.com/kartikbazzad/dbx/catalog"
	"github.com/kartikbazzad/dbx/mvcc"
)

const benchTable = "bench"

type config struct {
	Dir         string
	Concurrency int
	TotalOps    int
	ReadRatio   float64 // 0.0 to 1.0 (e.g. 0.8 for 80% reads)
	InMemory    bool
}

func main() {
	dir := flag.String("dir", "", "Data directory (ignored with -mem)")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	ops := flag.Int("n", 10000, "Total number of operations")
	ratio := flag.Float64("ratio", 0.5, "Read ratio (0.0=Write Only, 1.0=Read Only)")
	inMemory := flag.Bool("mem", true, "Use an in-memory engine instead of -dir")
	flag.Parse()

	cfg := config{
		Dir:         *dir,
		Concurrency: *concurrency,
		TotalOps:    *ops,
		ReadRatio:   *ratio,
		InMemory:    *inMemory,
	}

	fmt.Printf("🔥 Starting DBX Bench\n")
	fmt.Printf("   Dir:        %s\n   In-memory:  %v\n   Workers:    %d\n   Total Ops:  %d\n   Read Ratio: %.2f\n",
		cfg.Dir, cfg.InMemory, cfg.Concurrency, cfg.TotalOps, cfg.ReadRatio)

	if err := run(cfg); err != nil {
		fmt.Printf("bench failed: %v\n", err)
	}
}

func run(cfg config) error {
	var (
		e   *dbx.Engine
		err error
	)
	if cfg.InMemory {
		e, err = dbx.OpenInMemory(nil)
	} else {
		e, err = dbx.Open(dbx.DefaultOptions(cfg.Dir))
	}
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer e.Close()

	if err := e.CreateTable(benchTable, catalog.TableOptions{}); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	// Seed a working set so reads have something to find before any
	// writer has run.
	seedTxn, err := e.Begin(mvcc.ReadCommitted)
	if err != nil {
		return err
	}
	for i := 0; i < cfg.Concurrency; i++ {
		key := []byte(fmt.Sprintf("seed-%d", i))
		if err := e.Put(seedTxn, benchTable, key, []byte("seed-value")); err != nil {
			return err
		}
	}
	if err := e.Commit(seedTxn); err != nil {
		return err
	}

	runWorkers(e, cfg)
	return nil
}

func runWorkers(e *dbx.Engine, cfg config) {
	start := time.Now()

	var wg sync.WaitGroup
	opsPerWorker := cfg.TotalOps / cfg.Concurrency

	latencies := make(chan time.Duration, cfg.TotalOps)
	errorsCh := make(chan error, cfg.TotalOps)

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

			for j := 0; j < opsPerWorker; j++ {
				opStart := time.Now()

				isRead := r.Float64() < cfg.ReadRatio
				key := []byte(fmt.Sprintf("seed-%d", id))

				tx, err := e.Begin(mvcc.ReadCommitted)
				if err != nil {
					errorsCh <- err
					continue
				}

				if isRead {
					_, err = e.Get(tx, benchTable, key)
					if err == nil {
						err = e.Rollback(tx)
					}
				} else {
					err = e.Put(tx, benchTable, key, []byte(fmt.Sprintf("worker-%d-iter-%d", id, j)))
					if err == nil {
						err = e.Commit(tx)
					}
				}
				if err != nil {
					errorsCh <- err
				}

				latencies <- time.Since(opStart)
			}
		}(i)
	}

	wg.Wait()
	close(latencies)
	close(errorsCh)

	report(cfg, time.Since(start), latencies, errorsCh)
}

func report(cfg config, duration time.Duration, latencies <-chan time.Duration, errorsCh <-chan error) {
	var totalLatency time.Duration
	var latList []float64
	var errCount int

	for l := range latencies {
		totalLatency += l
		latList = append(latList, float64(l.Microseconds())/1000.0) // ms
	}
	for err := range errorsCh {
		errCount++
		if errCount <= 5 {
			fmt.Printf("Error sample: %v\n", err)
		}
	}

	opsCount := len(latList)
	throughput := float64(opsCount) / duration.Seconds()
	avgLatency := float64(0.0)
	if opsCount > 0 {
		avgLatency = float64(totalLatency.Milliseconds()) / float64(opsCount)
	}

	sort.Float64s(latList)
	p50, p99 := 0.0, 0.0
	if len(latList) > 0 {
		p50 = latList[int(float64(len(latList))*0.50)]
		p99 = latList[min(int(float64(len(latList))*0.99), len(latList)-1)]
	}

	fmt.Println("\n📊 Results:")
	fmt.Printf("   Duration:    %v\n", duration)
	fmt.Printf("   Throughput:  %.2f ops/sec\n", throughput)
	fmt.Printf("   Avg Latency: %.2f ms\n", avgLatency)
	fmt.Printf("   P50 Latency: %.2f ms\n", p50)
	fmt.Printf("   P99 Latency: %.2f ms\n", p99)
	fmt.Printf("   Errors:      %d (%.2f%%)\n", errCount, float64(errCount)/float64(max(cfg.TotalOps, 1))*100)
}
