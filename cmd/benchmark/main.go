// Benchmark tool for load testing Harrier's scoring API.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -batches 200 -rows 5000
//
// This tool:
//  1. Generates synthetic portfolios (or reads one CSV and reuses it)
//  2. Posts each portfolio to POST /score from concurrent workers
//  3. Scores the same portfolio locally with the rule engine
//  4. Compares server and local reports and prints latency and throughput
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/stats"
	"github.com/opensource-finance/harrier/internal/synth"
)

// Batch is one portfolio sent to the server.
type Batch struct {
	Seed    uint64
	Records []domain.PolicyRecord
	CSV     []byte
}

// Metrics tracks benchmark results
type Metrics struct {
	Matched    int64 // server and local reports agree
	Mismatched int64 // totals or ranking differ
	CacheHits  int64
	Errors     int64

	RecordsSent int64

	mu        sync.Mutex
	latencies []float64 // milliseconds
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, float64(d.Microseconds())/1000)
	m.mu.Unlock()
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	csvPath := flag.String("csv", "", "Reuse one dataset instead of generating portfolios")
	batches := flag.Int("batches", 100, "Number of portfolios to score")
	rows := flag.Int("rows", 2000, "Records per generated portfolio")
	seed := flag.Uint64("seed", 42, "Seed of the first generated portfolio")
	workers := flag.Int("workers", 8, "Number of concurrent workers")
	top := flag.Int("top", 30, "Flagged claims to compare per report")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              HARRIER BENCHMARK - Scoring API                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Batches:     %d\n", *batches)
	fmt.Printf("Workers:     %d\n", *workers)
	if *csvPath != "" {
		fmt.Printf("CSV File:    %s\n", *csvPath)
	} else {
		fmt.Printf("Rows/batch:  %d\n", *rows)
	}
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier serve")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	work, err := buildBatches(*csvPath, *batches, *rows, *seed)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Prepared %d portfolios\n", len(work))

	engine, err := rules.NewEngine(domain.DefaultRuleSet(), 4)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(work, engine, *baseURL, *workers, *top, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func buildBatches(csvPath string, n, rows int, seed uint64) ([]Batch, error) {
	if csvPath != "" {
		records, err := dataset.Load(csvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset: %w", err)
		}
		var buf bytes.Buffer
		if err := dataset.WriteCSV(&buf, records); err != nil {
			return nil, err
		}
		// Repeats of one dataset exercise the report cache.
		out := make([]Batch, n)
		for i := range out {
			out[i] = Batch{Records: records, CSV: buf.Bytes()}
		}
		return out, nil
	}

	out := make([]Batch, n)
	for i := range out {
		s := seed + uint64(i)
		records := synth.Generate(synth.Config{Rows: rows, Seed: s})
		var buf bytes.Buffer
		if err := dataset.WriteCSV(&buf, records); err != nil {
			return nil, err
		}
		out[i] = Batch{Seed: s, Records: records, CSV: buf.Bytes()}
	}
	return out, nil
}

func runBenchmark(batches []Batch, engine *rules.Engine, baseURL string, numWorkers, top int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Batch, numWorkers)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for b := range work {
				start := time.Now()
				report, cached, err := scoreBatch(client, baseURL, top, b)
				metrics.observe(time.Since(start))
				atomic.AddInt64(&metrics.RecordsSent, int64(len(b.Records)))

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: seed %d -> %v\n", b.Seed, err)
					}
					continue
				}
				if cached {
					atomic.AddInt64(&metrics.CacheHits, 1)
				}

				ok, why := compare(engine, b, report, top)
				if ok {
					atomic.AddInt64(&metrics.Matched, 1)
				} else {
					atomic.AddInt64(&metrics.Mismatched, 1)
				}

				if verbose {
					status := "✓"
					if !ok {
						status = "✗ " + why
					}
					fmt.Printf("%s seed %-6d | claims %6d | flagged %5d | max %2d | cache %v\n",
						status, b.Seed, report.ClaimCount, report.FlaggedCount, report.MaxScore, cached)
				}
			}
		}()
	}

	// Send work
	for _, b := range batches {
		work <- b
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func scoreBatch(client *http.Client, baseURL string, top int, b Batch) (*domain.Report, bool, error) {
	url := fmt.Sprintf("%s/score?top=%d&source=benchmark-%d", baseURL, top, b.Seed)
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b.CSV))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "text/csv")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report domain.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, false, err
	}
	return &report, resp.Header.Get("X-Harrier-Cache") == "hit", nil
}

// compare scores b locally and checks the server report against it.
func compare(engine *rules.Engine, b Batch, report *domain.Report, top int) (bool, string) {
	res, err := engine.Score(context.Background(), b.Records)
	if err != nil {
		return false, err.Error()
	}

	switch {
	case report.ClaimCount != res.ClaimCount:
		return false, fmt.Sprintf("claims %d != %d", report.ClaimCount, res.ClaimCount)
	case report.FlaggedCount != len(res.Flagged):
		return false, fmt.Sprintf("flagged %d != %d", report.FlaggedCount, len(res.Flagged))
	case report.MaxScore != res.MaxScore():
		return false, fmt.Sprintf("max score %d != %d", report.MaxScore, res.MaxScore())
	}

	want := res.Top(top)
	if len(report.Top) != len(want) {
		return false, fmt.Sprintf("top %d != %d", len(report.Top), len(want))
	}
	for i, a := range want {
		if report.Top[i].CustomerID != a.Record.CustomerID {
			return false, fmt.Sprintf("rank %d: customer %d != %d", i+1, report.Top[i].CustomerID, a.Record.CustomerID)
		}
	}
	return true, ""
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	total := m.Matched + m.Mismatched + m.Errors

	fmt.Printf("\n📊 RUNS\n")
	fmt.Printf("   Portfolios:       %d\n", total)
	fmt.Printf("   Records sent:     %s\n", humanize.Comma(m.RecordsSent))
	fmt.Printf("   Cache hits:       %d\n", m.CacheHits)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	fmt.Printf("\n🎯 AGREEMENT WITH LOCAL ENGINE\n")
	fmt.Printf("   Matched:          %d\n", m.Matched)
	fmt.Printf("   Mismatched:       %d\n", m.Mismatched)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) > 0 {
		sort.Float64s(m.latencies)
		avg, _ := stats.Mean(m.latencies)
		fmt.Printf("   Avg Latency:      %.2f ms\n", avg)
		fmt.Printf("   p50 Latency:      %.2f ms\n", stats.PercentileSorted(m.latencies, 0.50))
		fmt.Printf("   p95 Latency:      %.2f ms\n", stats.PercentileSorted(m.latencies, 0.95))
		fmt.Printf("   Throughput:       %.2f runs/sec, %s records/sec\n",
			float64(total)/duration.Seconds(),
			humanize.Comma(int64(float64(m.RecordsSent)/duration.Seconds())))
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case m.Errors > 0:
		fmt.Println("   ❌ Some requests failed - check the server logs")
	case m.Mismatched > 0:
		fmt.Println("   ❌ Server reports differ from local scoring - check the rule set and limits")
	default:
		fmt.Println("   ✅ Every server report matches local scoring")
	}

	fmt.Println()
}
