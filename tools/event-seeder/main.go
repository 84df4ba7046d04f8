package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/V4T54L/aggregation-count/internal/adapter/repository/postgres"
	"github.com/V4T54L/aggregation-count/internal/pkg/logger"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	dsn := flag.String("postgres", os.Getenv("POSTGRES_URL"), "Postgres connection URL")
	stream := flag.String("stream", "auth", "Stream (event source) to write to")
	message := flag.String("message", "login failed", "Message text of generated events")
	users := flag.Int("users", 5, "Number of distinct user values")
	ips := flag.Int("ips", 3, "Number of distinct ip values")
	concurrency := flag.Int("c", 4, "Number of concurrent writers")
	duration := flag.Duration("d", 30*time.Second, "How long to write events")
	rps := flag.Int("rps", 200, "Events per second limit")
	batch := flag.Int("batch", 50, "Events per COPY batch")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("postgres URL is required (-postgres or POSTGRES_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to prepare schema: %v", err)
	}
	writer := postgres.NewEventWriter(db, logger.New("warn"))

	log.Printf("Seeding stream %q for %s at up to %d events/s", *stream, *duration, *rps)

	var wg sync.WaitGroup
	var written, failed atomic.Int64
	limiter := rate.NewLimiter(rate.Limit(*rps), *batch)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			gen := newGenerator(*stream, *message, *users, *ips, int64(workerID))
			for {
				if err := limiter.WaitN(ctx, *batch); err != nil {
					return
				}
				msgs := gen.batch(time.Now().UTC(), *batch)
				// Use a fresh context so the last batch is not cut off by the deadline.
				wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := writer.WriteBatch(wctx, msgs)
				wcancel()
				if err != nil {
					failed.Add(int64(len(msgs)))
					log.Printf("worker %d: write failed: %v", workerID, err)
					continue
				}
				written.Add(int64(len(msgs)))
			}
		}(i)
	}

	wg.Wait()

	log.Println("Seeding finished.")
	log.Printf("Events written: %d", written.Load())
	log.Printf("Events failed: %d", failed.Load())
	log.Printf("Actual rate: %.2f events/s", float64(written.Load())/duration.Seconds())
}
