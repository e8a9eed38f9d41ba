// Benchmark tool that replays synthetic rider journeys against Turnstile.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -riders 1000 -workers 20
//
// Each rider taps in at one gate and out at another after a random trip.
// Card numbers are chosen so the network simulator's default rules decide
// some of them: cards ending in 9 fail verification, cards ending in 8 fail
// authorization, and any fare above 20 is declined. The tool compares every
// decision with the one those rules predict and reports mismatches and
// latency.
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

	"github.com/opensource-finance/turnstile/internal/domain"
)

// Journey is one rider's entry and exit.
type Journey struct {
	PAN        string
	Entry      string
	Exit       string
	StartedAt  time.Time
	TripLength time.Duration
}

// Expected returns the statuses the simulator's default rules produce at
// a fare of one unit per second.
func (j Journey) Expected() (entry, exit domain.DecisionStatus) {
	switch j.PAN[len(j.PAN)-1] {
	case '9':
		return domain.StatusDeclinedPre, domain.StatusDeclinedPost
	case '8':
		return domain.StatusApproved, domain.StatusDeclinedPost
	}
	if int(j.TripLength/time.Second) > 20 {
		return domain.StatusApproved, domain.StatusDeclinedPost
	}
	return domain.StatusApproved, domain.StatusApproved
}

// Metrics tracks benchmark results.
type Metrics struct {
	Taps       int64
	Approved   int64
	Declined   int64
	Mismatches int64
	Errors     int64

	mu        sync.Mutex
	latencies []time.Duration
	reasons   map[string]int64
}

func (m *Metrics) record(d *domain.Decision, latency time.Duration) {
	atomic.AddInt64(&m.Taps, 1)
	if d.Approved() {
		atomic.AddInt64(&m.Approved, 1)
	} else {
		atomic.AddInt64(&m.Declined, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.reasons[d.Reason]++
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Turnstile base URL")
	riders := flag.Int("riders", 1000, "Number of rider journeys")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	maxTrip := flag.Duration("max-trip", 30*time.Second, "Longest simulated trip")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	verbose := flag.Bool("verbose", false, "Print every mismatch")
	flag.Parse()

	fmt.Println("TURNSTILE BENCHMARK - synthetic rider journeys")
	fmt.Printf("\nTurnstile URL: %s\n", *baseURL)
	fmt.Printf("Riders:        %d\n", *riders)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Max trip:      %s\n", *maxTrip)
	fmt.Printf("Seed:          %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Turnstile not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Turnstile is running:")
		fmt.Println("  TURNSTILE_FINGERPRINT_SECRET=dev go run ./cmd/turnstile")
		os.Exit(1)
	}
	fmt.Println("Turnstile is healthy")

	journeys := generateJourneys(rand.New(rand.NewSource(*seed)), *riders, *maxTrip)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(journeys, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(start))
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

func generateJourneys(rng *rand.Rand, n int, maxTrip time.Duration) []Journey {
	gates := []string{"north-01", "north-02", "central-01", "central-02", "south-01"}
	now := time.Now().UTC()

	journeys := make([]Journey, n)
	for i := range journeys {
		entry := gates[rng.Intn(len(gates))]
		exit := gates[rng.Intn(len(gates))]
		journeys[i] = Journey{
			// A fresh card per rider so journeys never interfere.
			PAN:        fmt.Sprintf("4%015d", rng.Int63n(1e15)),
			Entry:      entry,
			Exit:       exit,
			StartedAt:  now.Add(time.Duration(i) * time.Millisecond),
			TripLength: time.Duration(rng.Int63n(int64(maxTrip/time.Second)+1)) * time.Second,
		}
	}
	return journeys
}

func runBenchmark(journeys []Journey, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{reasons: make(map[string]int64)}

	work := make(chan Journey, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for j := range work {
				wantEntry, wantExit := j.Expected()

				entry, err := submitTap(client, baseURL, metrics, j.PAN, j.Entry, "entry", j.StartedAt)
				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: entry %s -> %v\n", j.Entry, err)
					}
					continue
				}
				checkDecision(metrics, verbose, j, entry, wantEntry)

				exit, err := submitTap(client, baseURL, metrics, j.PAN, j.Exit, "exit", j.StartedAt.Add(j.TripLength))
				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: exit %s -> %v\n", j.Exit, err)
					}
					continue
				}
				checkDecision(metrics, verbose, j, exit, wantExit)
			}
		}()
	}

	for _, j := range journeys {
		work <- j
	}
	close(work)

	wg.Wait()

	return metrics
}

func checkDecision(m *Metrics, verbose bool, j Journey, d *domain.Decision, want domain.DecisionStatus) {
	if d.Status == want {
		return
	}
	atomic.AddInt64(&m.Mismatches, 1)
	if verbose {
		fmt.Printf("MISMATCH %s ...%s trip=%s: want %s, got %s (%s)\n",
			d.Direction, j.PAN[len(j.PAN)-4:], j.TripLength, want, d.Status, d.Reason)
	}
}

func submitTap(client *http.Client, baseURL string, m *Metrics, pan, terminal, direction string, at time.Time) (*domain.Decision, error) {
	sub := domain.TapSubmission{
		TerminalID: terminal,
		Card: domain.CardData{
			PAN:        pan,
			Expiry:     "2712",
			AID:        "A0000000031010",
			Cryptogram: fmt.Sprintf("%016X", rand.Uint64()),
		},
		Direction: direction,
		Timestamp: at,
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Post(baseURL+"/taps", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusForbidden {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var d domain.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}
	if d.Status == "" {
		return nil, fmt.Errorf("no decision in response (async mode?)")
	}

	m.record(&d, latency)
	return &d, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDECISIONS\n")
	fmt.Printf("   Taps:        %d\n", m.Taps)
	fmt.Printf("   Approved:    %d\n", m.Approved)
	fmt.Printf("   Declined:    %d\n", m.Declined)
	fmt.Printf("   Mismatches:  %d\n", m.Mismatches)
	fmt.Printf("   Errors:      %d\n", m.Errors)

	reasons := make([]string, 0, len(m.reasons))
	for r := range m.reasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	fmt.Printf("\nREASONS\n")
	for _, r := range reasons {
		fmt.Printf("   %-24s %d\n", r, m.reasons[r])
	}

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })

	fmt.Printf("\nLATENCY\n")
	fmt.Printf("   p50:  %s\n", percentile(m.latencies, 0.50))
	fmt.Printf("   p95:  %s\n", percentile(m.latencies, 0.95))
	fmt.Printf("   p99:  %s\n", percentile(m.latencies, 0.99))

	fmt.Printf("\nTHROUGHPUT\n")
	fmt.Printf("   Duration:  %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("   Taps/sec:  %.1f\n", float64(m.Taps)/duration.Seconds())
	}
	fmt.Println()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
