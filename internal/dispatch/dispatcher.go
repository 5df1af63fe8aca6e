// Package dispatch runs the map phase: one concurrent retried call per chunk,
// joined by a barrier.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/mapred/internal/chunk"
	"github.com/dreamware/mapred/internal/cluster"
	"github.com/dreamware/mapred/internal/retry"
)

// Status is the terminal state of a chunk.
type Status string

const (
	StatusCompleted         Status = "completed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// Caller is the retry-wrapped RPC client. *retry.Client implements it.
type Caller interface {
	Call(ctx context.Context, url, description string) (retry.Outcome, error)
}

// ChunkResult is the terminal outcome of one chunk.
type ChunkResult struct {
	Err       error // last failure reason, nil when completed
	Worker    string
	OutputKey string // set only when completed
	Status    Status
	Elapsed   time.Duration // wall time of the whole retried call
	Index     int
	Attempts  int
}

// Completed reports whether the chunk produced an output.
func (r ChunkResult) Completed() bool { return r.Status == StatusCompleted }

// MapOutcome is the sealed result of a map phase.
type MapOutcome struct {
	// Results is indexed by chunk index, independent of completion order.
	Results []ChunkResult
	// CompletionOrder lists chunk indices in the order their calls finished.
	CompletionOrder []int
	// Wall is the wall-clock span of the whole fan-out and join.
	Wall time.Duration
}

// Failed returns the sorted indices of permanently failed chunks.
func (m *MapOutcome) Failed() []int {
	var failed []int
	for _, r := range m.Results {
		if !r.Completed() {
			failed = append(failed, r.Index)
		}
	}
	slices.Sort(failed)
	return failed
}

// OutputKeys returns every output locator in chunk-index order.
func (m *MapOutcome) OutputKeys() []string {
	keys := make([]string, len(m.Results))
	for i, r := range m.Results {
		keys[i] = r.OutputKey
	}
	return keys
}

// SerialTime is the sum of per-chunk call times, the cost of running the
// same calls one after another.
func (m *MapOutcome) SerialTime() time.Duration {
	var total time.Duration
	for _, r := range m.Results {
		total += r.Elapsed
	}
	return total
}

// Dispatcher fans chunks out across a worker pool.
type Dispatcher struct {
	caller     Caller
	pool       chunk.Pool
	sequential bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSequential runs chunks one after another in index order instead of
// concurrently. It is the baseline of the sequential/parallel comparison.
func WithSequential() Option {
	return func(d *Dispatcher) { d.sequential = true }
}

// New creates a dispatcher over a non-empty pool.
func New(caller Caller, pool chunk.Pool, opts ...Option) (*Dispatcher, error) {
	if len(pool) == 0 {
		return nil, chunk.ErrEmptyPool
	}
	d := &Dispatcher{caller: caller, pool: pool}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Pool returns the worker pool.
func (d *Dispatcher) Pool() chunk.Pool { return d.pool }

// Dispatch launches one goroutine per chunk, each running the full retry
// contract against pool[i mod len(pool)]. A permanent failure never cancels
// siblings. Dispatch returns once every chunk has a terminal result.
// chunks must be the output of chunk.Split: index i at position i.
//
// With WithSequential the calls run in index order on the calling goroutine,
// so Wall covers the sum of every call.
func (d *Dispatcher) Dispatch(ctx context.Context, unit chunk.WorkUnit, chunks []chunk.Chunk) *MapOutcome {
	start := time.Now()
	workers := d.pool.Assignments(len(chunks))
	done := make(chan ChunkResult, len(chunks))

	if d.sequential {
		for _, c := range chunks {
			done <- d.run(ctx, unit, c, workers[c.Index])
		}
	} else {
		for _, c := range chunks {
			go func(c chunk.Chunk) {
				done <- d.run(ctx, unit, c, workers[c.Index])
			}(c)
		}
	}

	out := &MapOutcome{
		Results:         make([]ChunkResult, len(chunks)),
		CompletionOrder: make([]int, 0, len(chunks)),
	}
	for range chunks {
		r := <-done
		out.CompletionOrder = append(out.CompletionOrder, r.Index)
		out.Results[r.Index] = r
		if !r.Completed() {
			log.Printf("chunk %d PERMANENTLY FAILED on %s: %v", r.Index, r.Worker, r.Err)
		}
	}
	out.Wall = time.Since(start)

	mode := "parallel"
	if d.sequential {
		mode = "sequential"
	}
	log.Printf("map phase wall time: %.3fs, sum of chunk times %.3fs (%s, %d chunks, %d workers)",
		out.Wall.Seconds(), out.SerialTime().Seconds(), mode, len(chunks), len(d.pool))
	return out
}

func (d *Dispatcher) run(ctx context.Context, unit chunk.WorkUnit, c chunk.Chunk, worker string) ChunkResult {
	url := cluster.MapURL(worker, unit.Bucket, c.Key, c.OutputKey)

	start := time.Now()
	outcome, err := d.caller.Call(ctx, url, fmt.Sprintf("Mapper (chunk %d)", c.Index))
	r := ChunkResult{
		Index:   c.Index,
		Worker:  worker,
		Elapsed: time.Since(start),
	}
	if err != nil {
		r.Status = StatusPermanentlyFailed
		r.Err = err
		var ce *retry.CallError
		if errors.As(err, &ce) {
			r.Attempts = ce.Attempts
		}
		return r
	}
	r.Status = StatusCompleted
	r.OutputKey = c.OutputKey
	r.Attempts = outcome.Attempts
	return r
}
