// Command sessionbench drives a Session under synthetic concurrent load.
// It talks to the Session actor directly rather than through the gocql
// compatibility shim, keeping the same workload shapes (inserts, selects,
// mixed), concurrency model, and latency sampling as gocql/tests/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"

	scylla "github.com/scylla-go/session-core"
)

const insertStmt = "INSERT INTO benchks.benchtab (pk, v1, v2) VALUES(?, ?, ?)"
const selectStmt = "SELECT v1, v2 FROM benchks.benchtab WHERE pk = ?"
const samples = 20_000

type workload int

const (
	Inserts workload = iota
	Selects
	Mixed
)

type config struct {
	nodeAddresses []string
	concurrency   int64
	tasks         int64
	batchSize     int64
	workload      workload
	dontPrepare   bool
	profileCPU    bool
	profileMem    bool
}

func readConfig() config {
	nodes := flag.String("nodes", "127.0.0.1:9042", "comma-separated contact points")
	concurrency := flag.Int64("concurrency", 256, "number of concurrent workers")
	tasks := flag.Int64("tasks", 1_000_000, "total number of partitions to touch")
	batchSize := flag.Int64("batch-size", 128, "partitions claimed per worker iteration")
	workloadName := flag.String("workload", "mixed", "inserts | selects | mixed")
	dontPrepare := flag.Bool("dont-prepare", false, "skip keyspace/table setup")
	profileCPU := flag.Bool("profile-cpu", false, "enable CPU profiling")
	profileMem := flag.Bool("profile-mem", false, "enable memory profiling")
	flag.Parse()

	var wl workload
	switch strings.ToLower(*workloadName) {
	case "inserts":
		wl = Inserts
	case "selects":
		wl = Selects
	default:
		wl = Mixed
	}

	return config{
		nodeAddresses: strings.Split(*nodes, ","),
		concurrency:   *concurrency,
		tasks:         *tasks,
		batchSize:     *batchSize,
		workload:      wl,
		dontPrepare:   *dontPrepare,
		profileCPU:    *profileCPU,
		profileMem:    *profileMem,
	}
}

func main() {
	cfg := readConfig()
	log.Printf("Benchmark configuration: %#v\n", cfg)

	if cfg.profileCPU && cfg.profileMem {
		log.Fatal("select one profile type")
	}
	if cfg.profileCPU {
		log.Println("Running with CPU profiling")
		defer profile.Start(profile.CPUProfile).Stop()
	}
	if cfg.profileMem {
		log.Println("Running with memory profiling")
		defer profile.Start(profile.MemProfile).Stop()
	}

	ctx := context.Background()
	session, err := scylla.NewSession(ctx, scylla.DefaultConfig("benchks", cfg.nodeAddresses...))
	if err != nil {
		log.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	if !cfg.dontPrepare {
		prepareKeyspaceAndTable(ctx, session)
	}

	insertHandle, err := session.Prepare(ctx, insertStmt)
	if err != nil {
		log.Fatalf("Prepare insert: %v", err)
	}
	selectHandle, err := session.Prepare(ctx, selectStmt)
	if err != nil {
		log.Fatalf("Prepare select: %v", err)
	}

	if cfg.workload == Selects && !cfg.dontPrepare {
		prepareSelectsBenchmark(ctx, session, cfg, insertHandle)
	}

	var wg sync.WaitGroup
	nextBatchStart := -cfg.batchSize

	log.Println("Starting the benchmark")
	startTime := time.Now()

	selectCh := make(chan time.Duration, 2*samples)
	insertCh := make(chan time.Duration, 2*samples)
	for i := int64(0); i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				curBatchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize)
				if curBatchStart >= cfg.tasks {
					return
				}
				curBatchEnd := min64(curBatchStart+cfg.batchSize, cfg.tasks)

				for pk := curBatchStart; pk < curBatchEnd; pk++ {
					sample := rand.Int63n(cfg.tasks) < samples

					if cfg.workload == Inserts || cfg.workload == Mixed {
						start := time.Now()
						_, err := session.Execute(ctx, insertHandle, []interface{}{pk, 2 * pk, 3 * pk}, scylla.DefaultQueryParams())
						if err != nil {
							log.Fatalf("insert pk=%d: %v", pk, err)
						}
						if sample {
							insertCh <- time.Since(start)
						}
					}

					if cfg.workload == Selects || cfg.workload == Mixed {
						start := time.Now()
						_, err := session.Execute(ctx, selectHandle, []interface{}{pk}, scylla.DefaultQueryParams())
						if err != nil {
							log.Fatalf("select pk=%d: %v", pk, err)
						}
						if sample {
							selectCh <- time.Since(start)
						}
					}
				}
			}
		}()
	}

	wg.Wait()
	benchTime := time.Since(startTime)

	fmt.Printf("time %d\n", benchTime.Milliseconds())
	printLatencyInfo("select", selectCh)
	printLatencyInfo("insert", insertCh)
	log.Printf("Finished\nBenchmark time: %d ms\n", benchTime.Milliseconds())
}

func printLatencyInfo(name string, ch chan time.Duration) {
	cnt := len(ch)
	for i := 0; i < cnt; i++ {
		fmt.Printf("%s %d\n", name, (<-ch).Nanoseconds())
	}
}

func prepareKeyspaceAndTable(ctx context.Context, session *scylla.Session) {
	stmts := []string{
		"DROP KEYSPACE IF EXISTS benchks",
		"CREATE KEYSPACE IF NOT EXISTS benchks WITH REPLICATION = {'class' : 'SimpleStrategy', 'replication_factor' : 1}",
		"CREATE TABLE IF NOT EXISTS benchks.benchtab (pk bigint PRIMARY KEY, v1 bigint, v2 bigint)",
	}
	for _, stmt := range stmts {
		if _, err := session.Execute(ctx, stmt, nil, scylla.DefaultQueryParams()); err != nil {
			log.Fatalf("schema setup %q: %v", stmt, err)
		}
		time.Sleep(time.Second)
	}
}

func prepareSelectsBenchmark(ctx context.Context, session *scylla.Session, cfg config, insertHandle string) {
	log.Println("Preparing a selects benchmark (inserting values)...")

	var wg sync.WaitGroup
	nextBatchStart := -cfg.batchSize
	workers := max64(1024, cfg.concurrency)

	for i := int64(0); i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				curBatchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize)
				if curBatchStart >= cfg.tasks {
					return
				}
				curBatchEnd := min64(curBatchStart+cfg.batchSize, cfg.tasks)

				for pk := curBatchStart; pk < curBatchEnd; pk++ {
					if _, err := session.Execute(ctx, insertHandle, []interface{}{pk, 2 * pk, 3 * pk}, scylla.DefaultQueryParams()); err != nil {
						log.Fatalf("seed insert pk=%d: %v", pk, err)
					}
				}
			}
		}()
	}

	wg.Wait()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a < b {
		return b
	}
	return a
}
