// Load generator for the relay. Spawns development peers under distinct
// keys and fires streaming completions at them at a fixed rate, reporting
// throughput and failures periodically.
//
// Usage:
//
//	go run ./scripts/relay-stress                             # 20 peers, 2 req/s each
//	go run ./scripts/relay-stress -peers 100 -rate 5          # 100 peers, 5 req/s each
//	go run ./scripts/relay-stress -url http://relay:8080 -duration 5m
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/seabase/kiwi-relay/peer"
)

var (
	relayURL   = flag.String("url", "http://localhost:8080", "Relay base URL")
	peers      = flag.Int("peers", 20, "Number of simulated browser tabs")
	rate       = flag.Int("rate", 2, "Completions per second per peer")
	duration   = flag.Duration("duration", 10*time.Minute, "Test duration (0 = run until Ctrl+C)")
	reportSecs = flag.Int("report", 10, "Report interval in seconds")
	rampUp     = flag.Duration("ramp", 5*time.Second, "Ramp-up time (spread peer creation)")
	prompt     = flag.String("prompt", "stress test prompt for the relay", "User message sent with every completion")
)

var (
	totalSent      atomic.Int64
	totalCompleted atomic.Int64
	totalChunks    atomic.Int64
	totalErrors    atomic.Int64
	totalRejected  atomic.Int64
	inFlight       atomic.Int64
)

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  kiwi-relay stress test")
	fmt.Println("========================================")
	fmt.Printf("  URL:          %s\n", *relayURL)
	fmt.Printf("  Peers:        %d\n", *peers)
	fmt.Printf("  Rate:         %d req/s per peer\n", *rate)
	fmt.Printf("  Total RPS:    ~%d req/s\n", *peers**rate)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Ramp-up:      %s\n", *rampUp)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	go reporter(ctx)

	rampDelay := *rampUp / time.Duration(*peers)
	if rampDelay < time.Millisecond {
		rampDelay = time.Millisecond
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	logger := zerolog.Nop()

	var wg sync.WaitGroup
launch:
	for i := 0; i < *peers; i++ {
		key := fmt.Sprintf("sk-stress-%06d", i+1)

		config := peer.DefaultConfig()
		config.ServerURL = *relayURL
		config.Key = key
		config.ChunkDelay = 5 * time.Millisecond
		p, err := peer.New(logger, config, clockwork.NewRealClock())
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid peer config: %v\n", err)
			os.Exit(1)
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			runCaller(ctx, client, key)
		}()

		select {
		case <-ctx.Done():
			break launch
		case <-time.After(rampDelay):
		}
	}

	<-ctx.Done()
	fmt.Println("\nshutting down...")
	wg.Wait()

	printFinalSummary()
}

// runCaller sends completions for key at the configured rate.
func runCaller(ctx context.Context, client *http.Client, key string) {
	// Give the peer a moment to register before the first request.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Second):
	}

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				complete(ctx, client, key)
			}()
		}
	}
}

func complete(ctx context.Context, client *http.Client, key string) {
	body := fmt.Sprintf(`{"messages":[{"role":"user","content":%q}]}`, *prompt)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *relayURL+"/v1/chat/completions", strings.NewReader(body))
	if err != nil {
		totalErrors.Add(1)
		return
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	totalSent.Add(1)
	inFlight.Add(1)
	defer inFlight.Add(-1)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			totalErrors.Add(1)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		totalRejected.Add(1)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "data: [DONE]":
			totalCompleted.Add(1)
			return
		case strings.HasPrefix(line, "data: "):
			totalChunks.Add(1)
		}
	}
	if ctx.Err() == nil {
		totalErrors.Add(1)
	}
}

func reporter(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(*reportSecs) * time.Second)
	defer ticker.Stop()

	start := time.Now()
	lastCompleted := int64(0)
	lastTime := start

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%-9s %-8s %-10s %-10s %-10s %-8s %-8s %-8s\n",
		"Elapsed", "Flight", "Sent", "Done", "Chunks", "Errors", "Reject", "RPS")
	fmt.Println("----------------------------------------------------------------------")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			elapsed := now.Sub(start)
			completed := totalCompleted.Load()
			rps := float64(completed-lastCompleted) / now.Sub(lastTime).Seconds()

			etime := fmt.Sprintf("%02d:%02d:%02d",
				int(elapsed.Hours()), int(elapsed.Minutes())%60, int(elapsed.Seconds())%60)

			fmt.Printf("%-9s %-8d %-10d %-10d %-10d %-8d %-8d %-8.1f\n",
				etime, inFlight.Load(), totalSent.Load(), completed, totalChunks.Load(),
				totalErrors.Load(), totalRejected.Load(), rps)

			lastCompleted = completed
			lastTime = now
		}
	}
}

func printFinalSummary() {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("  Final Summary")
	fmt.Println("========================================")
	fmt.Printf("  Sent:        %d\n", totalSent.Load())
	fmt.Printf("  Completed:   %d\n", totalCompleted.Load())
	fmt.Printf("  Chunks:      %d\n", totalChunks.Load())
	fmt.Printf("  Errors:      %d\n", totalErrors.Load())
	fmt.Printf("  Rejected:    %d\n", totalRejected.Load())
	fmt.Println()
}
