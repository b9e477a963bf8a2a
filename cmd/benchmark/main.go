// Benchmark tool for load-testing Kestrel with synthetic behavioral telemetry.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -users 50 -batches 20
//
// This tool:
//   1. Generates synthetic users, each with a stable typing cadence
//   2. Streams keystroke and mouse batches to Kestrel
//   3. Verifies baselines get established and queries final assessments
//   4. Reports latency and throughput statistics
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// KeystrokeEvent mirrors the Kestrel ingest format.
type KeystrokeEvent struct {
	Subtype   string  `json:"subtype"`
	Timestamp float64 `json:"timestamp"`
	Key       string  `json:"key,omitempty"`
}

// PointerEvent mirrors the Kestrel ingest format.
type PointerEvent struct {
	Subtype   string  `json:"subtype"`
	Timestamp float64 `json:"timestamp"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
}

// ProcessResult is the ingest response.
type ProcessResult struct {
	UserID              string  `json:"userId"`
	EventsProcessed     int     `json:"eventsProcessed"`
	AnomalyScore        float64 `json:"anomalyScore"`
	BaselineEstablished bool    `json:"baselineEstablished"`
	Error               string  `json:"error,omitempty"`
}

// ScoreResponse is the assessment response.
type ScoreResponse struct {
	Assessment struct {
		SecurityScore       int    `json:"securityScore"`
		RiskLevel           string `json:"riskLevel"`
		BaselineEstablished bool   `json:"baselineEstablished"`
	} `json:"assessment"`
}

// syntheticUser is one simulated session with a personal typing cadence.
type syntheticUser struct {
	id      string
	cadence float64 // mean keydown interval in seconds
	jitter  float64
	clock   float64
	rng     *rand.Rand
}

// Metrics tracks benchmark results.
type Metrics struct {
	BatchesSent      int64
	Errors           int64
	Baselined        int64
	ProcessingTimeMs int64

	mu        sync.Mutex
	latencies []float64
}

func (m *Metrics) recordLatency(ms float64) {
	m.mu.Lock()
	m.latencies = append(m.latencies, ms)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	users := flag.Int("users", 50, "Number of synthetic users")
	batches := flag.Int("batches", 20, "Keystroke batches per user")
	batchSize := flag.Int("events", 10, "Keydown events per batch")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Synthetic Behavioral Load          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Users:       %d\n", *users)
	fmt.Printf("Batches:     %d per user\n", *batches)
	fmt.Printf("Batch size:  %d events\n", *batchSize)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Generate synthetic population
	gofakeit.Seed(*seed)
	population := make([]*syntheticUser, *users)
	for i := range population {
		rng := rand.New(rand.NewSource(*seed + int64(i)))
		population[i] = &syntheticUser{
			id:      fmt.Sprintf("%s-%04d", gofakeit.Username(), i),
			cadence: 0.08 + rng.Float64()*0.2, // 80-280ms between keys
			jitter:  0.01 + rng.Float64()*0.04,
			clock:   float64(time.Now().Unix()),
			rng:     rng,
		}
	}
	fmt.Printf("✓ Generated %d synthetic users\n", len(population))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(population, *baseURL, *batches, *batchSize, *workers, *verbose)
	duration := time.Since(startTime)

	// Query final assessments
	client := &http.Client{Timeout: 10 * time.Second}
	var lowRisk int
	for _, u := range population {
		score, err := fetchScore(client, *baseURL, u.id)
		if err != nil {
			continue
		}
		if score.Assessment.RiskLevel == "low" {
			lowRisk++
		}
	}

	printResults(metrics, duration, len(population), lowRisk)
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

// nextBatch advances the user's clock and emits a batch in their cadence.
func (u *syntheticUser) nextBatch(size int) []KeystrokeEvent {
	events := make([]KeystrokeEvent, 0, size)
	for i := 0; i < size; i++ {
		interval := u.cadence + (u.rng.Float64()*2-1)*u.jitter
		if interval < 0.01 {
			interval = 0.01
		}
		u.clock += interval
		events = append(events, KeystrokeEvent{
			Subtype:   "keydown",
			Timestamp: u.clock,
			Key:       gofakeit.LetterN(1),
		})
	}
	// Idle gap between batches
	u.clock += 2 + u.rng.Float64()*3
	return events
}

func runBenchmark(population []*syntheticUser, baseURL string, batches, batchSize, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan *syntheticUser, len(population))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for u := range work {
				var baselined bool
				for b := 0; b < batches; b++ {
					events := u.nextBatch(batchSize)

					start := time.Now()
					result, err := postKeystrokes(client, baseURL, u.id, events)
					elapsed := time.Since(start)

					atomic.AddInt64(&metrics.BatchesSent, 1)
					atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed.Milliseconds())
					metrics.recordLatency(float64(elapsed.Microseconds()) / 1000.0)

					if err != nil {
						atomic.AddInt64(&metrics.Errors, 1)
						if verbose {
							fmt.Printf("ERROR: %s batch %d -> %v\n", u.id, b, err)
						}
						continue
					}

					baselined = result.BaselineEstablished
					if verbose {
						fmt.Printf("%-24s | batch %2d | events %2d | score %.3f | baseline %v\n",
							u.id, b, result.EventsProcessed, result.AnomalyScore, result.BaselineEstablished)
					}
				}

				if baselined {
					atomic.AddInt64(&metrics.Baselined, 1)
				}
			}
		}()
	}

	for _, u := range population {
		work <- u
	}
	close(work)

	wg.Wait()
	return metrics
}

func postKeystrokes(client *http.Client, baseURL, userID string, events []KeystrokeEvent) (*ProcessResult, error) {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/behavior/keystrokes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ProcessResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func fetchScore(client *http.Client, baseURL, userID string) (*ScoreResponse, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/behavior/score", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", userID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var score ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return nil, err
	}
	return &score, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration, users, lowRisk int) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 INGEST STATISTICS\n")
	fmt.Printf("   Batches Sent:     %d\n", m.BatchesSent)
	fmt.Printf("   Errors:           %d\n", m.Errors)
	fmt.Printf("   Users:            %d\n", users)
	fmt.Printf("   Baselined:        %d (%.1f%%)\n", m.Baselined, 100*float64(m.Baselined)/float64(users))
	fmt.Printf("   Low Risk:         %d (%.1f%%)\n", lowRisk, 100*float64(lowRisk)/float64(users))

	m.mu.Lock()
	sorted := append([]float64(nil), m.latencies...)
	m.mu.Unlock()
	sort.Float64s(sorted)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.BatchesSent > 0 {
		fmt.Printf("   Throughput:       %.2f batches/sec\n", float64(m.BatchesSent)/duration.Seconds())
		fmt.Printf("   Latency p50:      %.2f ms\n", percentile(sorted, 0.50))
		fmt.Printf("   Latency p95:      %.2f ms\n", percentile(sorted, 0.95))
		fmt.Printf("   Latency p99:      %.2f ms\n", percentile(sorted, 0.99))
	}

	fmt.Println()
}
