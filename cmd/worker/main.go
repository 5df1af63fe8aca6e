// Package main runs a word-count worker: the HTTP service the orchestrator
// drives through /split, /map and /reduce.
//
// A worker serves one role, or all of them for local runs:
//
//	┌──────────────────────────────────────┐
//	│               Worker                 │
//	├──────────────────────────────────────┤
//	│  HTTP API (gin):                     │
//	│    /health  - liveness               │
//	│    /split   - role split or all      │
//	│    /map     - role map or all        │
//	│    /reduce  - role reduce or all     │
//	├──────────────────────────────────────┤
//	│  Storage: S3 or in-memory            │
//	└──────────────────────────────────────┘
//
// Configuration:
//   - WORKER_ADDR: Listen address (default: ":8080")
//   - WORKER_ROLE: split, map, reduce or all (default: "all")
//   - WORKER_STORAGE: s3 or memory (default: "s3")
//   - AWS_REGION: Region for S3 (default: "us-east-1")
//   - WORKER_SEED: Local file uploaded as the source object at startup
//   - WORKER_SEED_BUCKET / WORKER_SEED_KEY: Where the seed is stored
//     (default: "mapreduce-bucket" and the file's base name)
//
// In-memory storage is per process, so it only makes sense with
// WORKER_ROLE=all.
//
// Example usage:
//
//	# Three workers on S3
//	WORKER_ROLE=split  WORKER_ADDR=:8080 ./worker &
//	WORKER_ROLE=map    WORKER_ADDR=:8081 ./worker &
//	WORKER_ROLE=reduce WORKER_ADDR=:8082 ./worker &
//
//	# One local worker with a seeded text
//	WORKER_STORAGE=memory WORKER_SEED=hamlet.txt \
//	WORKER_SEED_KEY=shakespeare-hamlet.txt ./worker
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dreamware/mapred/internal/storage"
	"github.com/dreamware/mapred/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	listen := getenv("WORKER_ADDR", ":8080")
	role, err := worker.ParseRole(getenv("WORKER_ROLE", "all"))
	if err != nil {
		logFatal("%v", err)
		return
	}

	ctx := context.Background()
	kind := getenv("WORKER_STORAGE", "s3")
	store, err := newStore(ctx, kind, getenv("AWS_REGION", "us-east-1"))
	if err != nil {
		logFatal("storage: %v", err)
		return
	}
	if kind == "memory" && role != worker.RoleAll {
		log.Printf("warning: in-memory storage is not shared with other workers (role %s)", role)
	}

	if path := os.Getenv("WORKER_SEED"); path != "" {
		bucket := getenv("WORKER_SEED_BUCKET", "mapreduce-bucket")
		key := getenv("WORKER_SEED_KEY", filepath.Base(path))
		if err := seed(ctx, store, bucket, key, path); err != nil {
			logFatal("seed: %v", err)
			return
		}
		log.Printf("seeded %s from %s", storage.URI(bucket, key), path)
	}

	gin.SetMode(gin.ReleaseMode)
	s := newServer(listen, worker.NewRouter(worker.New(store), role))

	go func() {
		log.Printf("worker[%s] listening on %s (storage %s)", role, listen, kind)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Shutdown(ctx)
	log.Printf("worker[%s] stopped", role)
}

// newStore selects the storage backend by name.
func newStore(ctx context.Context, kind, region string) (storage.Store, error) {
	switch kind {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "s3":
		return storage.NewS3StoreFromEnv(ctx, region)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// seed uploads a local file so a run has a source object to split.
func seed(ctx context.Context, store storage.Store, bucket, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return store.Put(ctx, bucket, key, data)
}

func newServer(listen string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
