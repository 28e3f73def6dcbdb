//go:build ignore
// +build ignore

// Intake Load Test - drives POST /contact against a running orchestrator and
// waits for every channel to settle.
//
// Run cmd/stub-api first and point the orchestrator at it, then:
//
//	go run scripts/intake_loadtest.go \
//	  --url=http://localhost:8080 \
//	  --contacts=500 \
//	  --concurrency=20 \
//	  --settle=2m
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LoadTestMetrics collects intake latencies and final channel states.
type LoadTestMetrics struct {
	mu            sync.Mutex
	Latencies     []time.Duration
	IngestErrors  int64
	IDs           []string
	FinalStates   map[string]int64
	Unsettled     int64
	SettleElapsed time.Duration
}

// RecordIngest records one POST /contact round trip.
func (m *LoadTestMetrics) RecordIngest(id string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.IngestErrors++
		return
	}
	m.IDs = append(m.IDs, id)
	m.Latencies = append(m.Latencies, latency)
}

// percentile calculates the p-th percentile of durations
func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * float64(p) / 100)
	return sorted[idx]
}

type contactView struct {
	ID            string `json:"id"`
	ChannelStatus map[string]struct {
		State string `json:"state"`
	} `json:"channelStatus"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "orchestrator base URL")
	total := flag.Int("contacts", 200, "contacts to ingest")
	concurrency := flag.Int("concurrency", 10, "concurrent producers")
	settle := flag.Duration("settle", time.Minute, "how long to wait for channels to settle")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	metrics := &LoadTestMetrics{FinalStates: make(map[string]int64)}

	log.Printf("Ingesting %d contacts with %d producers against %s", *total, *concurrency, *baseURL)
	start := time.Now()

	var next int64
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := atomic.AddInt64(&next, 1)
				if n > int64(*total) {
					return
				}
				t0 := time.Now()
				id, err := ingest(client, *baseURL, n)
				metrics.RecordIngest(id, time.Since(t0), err)
			}
		}()
	}
	wg.Wait()
	ingestElapsed := time.Since(start)

	ctx, cancel := context.WithTimeout(context.Background(), *settle)
	defer cancel()
	settleStart := time.Now()
	waitSettled(ctx, client, *baseURL, metrics)
	metrics.SettleElapsed = time.Since(settleStart)

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("INTAKE LOAD TEST REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Ingested:        %d (%d errors) in %s\n", len(metrics.IDs), metrics.IngestErrors, ingestElapsed.Round(time.Millisecond))
	if ingestElapsed > 0 {
		fmt.Printf("Throughput:      %.1f contacts/s\n", float64(len(metrics.IDs))/ingestElapsed.Seconds())
	}
	fmt.Printf("Latency p50/p95/p99: %s / %s / %s\n",
		percentile(metrics.Latencies, 50), percentile(metrics.Latencies, 95), percentile(metrics.Latencies, 99))
	fmt.Printf("Settle time:     %s (%d contacts unsettled)\n", metrics.SettleElapsed.Round(time.Millisecond), metrics.Unsettled)
	states := make([]string, 0, len(metrics.FinalStates))
	for s := range metrics.FinalStates {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Printf("  %-16s %d\n", s, metrics.FinalStates[s])
	}

	if metrics.IngestErrors > 0 || metrics.Unsettled > 0 {
		os.Exit(1)
	}
}

func ingest(client *http.Client, baseURL string, n int64) (string, error) {
	suffix := uuid.NewString()[:8]
	body, _ := json.Marshal(map[string]interface{}{
		"firstName":    fmt.Sprintf("Load%d", n),
		"lastName":     "Test",
		"phoneNumbers": []string{fmt.Sprintf("+1555%07d", n)},
		"emails":       []string{fmt.Sprintf("load+%s@example.com", suffix)},
		"urls":         []string{fmt.Sprintf("https://www.linkedin.com/in/load-%s/", suffix)},
	})
	resp, err := client.Post(baseURL+"/contact", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// waitSettled polls until no ingested contact has a pending or in_progress
// channel, or ctx expires.
func waitSettled(ctx context.Context, client *http.Client, baseURL string, m *LoadTestMetrics) {
	want := make(map[string]bool, len(m.IDs))
	for _, id := range m.IDs {
		want[id] = true
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		states, unsettled, err := snapshot(client, baseURL, want)
		if err != nil {
			log.Printf("poll failed: %v", err)
		} else {
			m.FinalStates = states
			m.Unsettled = unsettled
			if unsettled == 0 {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func snapshot(client *http.Client, baseURL string, want map[string]bool) (map[string]int64, int64, error) {
	resp, err := client.Get(baseURL + "/contacts")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Contacts []contactView `json:"contacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, err
	}

	states := make(map[string]int64)
	var unsettled int64
	for _, c := range out.Contacts {
		if !want[c.ID] {
			continue
		}
		busy := false
		for ch, st := range c.ChannelStatus {
			states[ch+":"+st.State]++
			if st.State == "pending" || st.State == "in_progress" {
				busy = true
			}
		}
		if busy {
			unsettled++
		}
	}
	return states, unsettled, nil
}
