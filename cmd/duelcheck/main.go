package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// duelcheck is an ops probe: it verifies the Redis store and, when
// configured, the Postgres archive are reachable, then exits.
func main() {
	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if redisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping failed: %v", err)
	}
	log.Printf("redis ok: %s", opts.Addr)

	if databaseURL == "" {
		log.Println("DATABASE_URL not set; skipping archive check")
		return
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("postgres open failed: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("postgres ping failed: %v", err)
	}
	log.Println("postgres ok")
}
