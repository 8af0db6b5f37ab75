package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/client"
	"github.com/V4T54L/accesslog/internal/domain"
)

var agents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"curl/8.5.0",
	"Googlebot/2.1 (+http://www.google.com/bot.html)",
}

func main() {
	server := flag.String("server", client.DefaultServer, "Target server address")
	mode := flag.String("mode", "logs", "What to send: logs (single records) or csv (bulk uploads)")
	rows := flag.Int("rows", 5000, "Rows per generated CSV upload")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	flag.Parse()

	if *mode != "logs" && *mode != "csv" {
		log.Fatalf("unknown mode %q", *mode)
	}

	c := client.New(*server, nil)
	log.Printf("Starting %s load test on %s", *mode, c.BaseURL())
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var successCount, errorCount, recordCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				var n int
				var err error
				if *mode == "csv" {
					n, err = c.Upload(ctx, client.File{
						Name: fmt.Sprintf("load-%d-%s.csv", workerID, uuid.NewString()),
						Body: strings.NewReader(generateCSV(*rows)),
					})
				} else {
					n, err = 1, c.PostLog(ctx, generateRecord())
				}
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return
				}
				if err != nil {
					errorCount.Add(1)
					continue
				}
				successCount.Add(1)
				recordCount.Add(int64(n))
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Records accepted: %d", recordCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}

func generateRecord() domain.LogRecord {
	return domain.LogRecord{
		UserAgent:    agents[rand.IntN(len(agents))],
		ResponseTime: int64(rand.IntN(2000)),
		Timestamp:    time.Now().UTC(),
	}
}

func generateCSV(rows int) string {
	recs := make([]domain.LogRecord, rows)
	for i := range recs {
		recs[i] = generateRecord()
	}
	var b strings.Builder
	// Writes to a strings.Builder cannot fail.
	_ = codec.WriteAll(&b, recs)
	return b.String()
}
