// Package pipeline sequences split, map and reduce, with the map phase as a
// strict barrier: reduce runs only when every chunk completed.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/dreamware/mapred/internal/chunk"
	"github.com/dreamware/mapred/internal/cluster"
	"github.com/dreamware/mapred/internal/config"
	"github.com/dreamware/mapred/internal/dispatch"
	"github.com/dreamware/mapred/internal/health"
	"github.com/dreamware/mapred/internal/metrics"
	"github.com/dreamware/mapred/internal/retry"
)

// ReduceSummary is what the reducer reports on success.
type ReduceSummary struct {
	Output           string `json:"output"`
	UniqueWords      int    `json:"unique_words"`
	MappersProcessed int    `json:"mappers_processed"`
}

// Result is produced once per run. State is StateDone only if every chunk
// completed and reduce succeeded.
type Result struct {
	Reduce          *ReduceSummary         `json:"reduce,omitempty"`
	RunID           string                 `json:"run_id"`
	State           State                  `json:"state"`
	Chunks          []dispatch.ChunkResult `json:"-"`
	FailedChunks    []int                  `json:"failed_chunks,omitempty"`
	CompletionOrder []int                  `json:"completion_order,omitempty"`
	Trace           []State                `json:"trace"`
	Timings         metrics.Timings        `json:"timings"`
	NumChunks       int                    `json:"num_chunks"`
	NumMappers      int                    `json:"num_mappers"`
}

// Succeeded reports whether the run reached StateDone.
func (r *Result) Succeeded() bool { return r.State == StateDone }

// Summary converts a successful result into a report row.
func (r *Result) Summary() metrics.Summary {
	s := metrics.Summary{
		RunID:      r.RunID,
		Timings:    r.Timings,
		NumChunks:  r.NumChunks,
		NumMappers: r.NumMappers,
		Throughput: metrics.Throughput(r.NumChunks, r.Timings.Map),
	}
	if r.Reduce != nil {
		s.UniqueWords = r.Reduce.UniqueWords
		s.Output = r.Reduce.Output
	}
	return s
}

// HealthChecker checks worker health before the map phase.
type HealthChecker interface {
	CheckAll(ctx context.Context) []health.WorkerHealth
}

// Pipeline runs work units against a fixed configuration.
type Pipeline struct {
	caller     dispatch.Caller
	dispatcher *dispatch.Dispatcher
	checker    HealthChecker
	newRunID   func() string
	cfg        config.Config
	sequential bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCaller replaces the retry-wrapped client built from the config.
func WithCaller(c dispatch.Caller) Option {
	return func(p *Pipeline) { p.caller = c }
}

// WithHealthChecker replaces the pre-flight health checker.
func WithHealthChecker(hc HealthChecker) Option {
	return func(p *Pipeline) { p.checker = hc }
}

// WithSequentialMap runs map calls one after another instead of fanning out.
func WithSequentialMap() Option {
	return func(p *Pipeline) { p.sequential = true }
}

// WithRunID replaces run ID generation.
func WithRunID(f func() string) Option {
	return func(p *Pipeline) { p.newRunID = f }
}

// New validates cfg and builds a pipeline. Unless WithCaller is given, every
// call uses a retry.Client with cfg.Retry and cfg.RequestTimeout.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	pool, err := chunk.NewPool(cfg.MapperURLs)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, newRunID: newRunID}
	for _, opt := range opts {
		opt(p)
	}
	if p.caller == nil {
		p.caller = retry.NewClient(retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay,
		}, cfg.RequestTimeout)
	}
	if p.checker == nil && cfg.PreflightHealth {
		m := health.NewMonitor(pool, 0, 1)
		m.SetTimeout(cfg.RequestTimeout)
		p.checker = m
	}

	var dopts []dispatch.Option
	if p.sequential {
		dopts = append(dopts, dispatch.WithSequential())
	}
	p.dispatcher, err = dispatch.New(p.caller, pool, dopts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Unit builds the work unit for the configured source with n chunks.
func (p *Pipeline) Unit(n int) chunk.WorkUnit {
	return chunk.WorkUnit{Bucket: p.cfg.Bucket, Key: p.cfg.InputKey, NumChunks: n}
}

// Run executes one pipeline invocation. It always returns a non-nil Result
// holding the timings recorded so far. On abort it also returns an
// *AbortError naming the phase and, for map aborts, the failed chunks.
func (p *Pipeline) Run(ctx context.Context, unit chunk.WorkUnit) (*Result, error) {
	run := &runState{
		Result: &Result{
			RunID:      p.newRunID(),
			State:      StateIdle,
			Trace:      []State{StateIdle},
			NumChunks:  unit.NumChunks,
			NumMappers: len(p.dispatcher.Pool()),
		},
		clock: metrics.NewStopwatch(),
	}
	res := run.Result
	run.clock.Start(metrics.PhaseTotal)
	defer func() { res.Timings = run.clock.Timings() }()

	log.Printf("[%s] pipeline: %d chunks, %d mapper(s)", res.RunID, unit.NumChunks, res.NumMappers)

	if err := unit.Validate(); err != nil {
		run.to(StateSplitting)
		return run.abort(metrics.PhaseSplit, nil, err)
	}

	// Phase 1: split
	run.to(StateSplitting)
	run.clock.Start(metrics.PhaseSplit)
	splitURL := cluster.SplitURL(p.cfg.SplitterURL, unit.Bucket, unit.Key, unit.NumChunks)
	_, err := p.caller.Call(ctx, splitURL, "Splitter")
	run.clock.Stop(metrics.PhaseSplit)
	if err != nil {
		return run.abort(metrics.PhaseSplit, nil, err)
	}
	chunks := chunk.Split(unit.NumChunks)
	log.Printf("[%s] created %d chunks", res.RunID, len(chunks))

	// Phase 2: map
	run.to(StateMapping)
	p.preflight(ctx, res.RunID)
	mapped := p.dispatcher.Dispatch(ctx, unit, chunks)
	run.clock.Set(metrics.PhaseMap, mapped.Wall)
	res.Chunks = mapped.Results
	res.CompletionOrder = mapped.CompletionOrder

	// Barrier: partial map output is never reduced.
	run.to(StateReduceBarrierCheck)
	if failed := mapped.Failed(); len(failed) > 0 {
		res.FailedChunks = failed
		log.Printf("[%s] %d chunk(s) failed: %v; pipeline cannot produce correct results without all mapper outputs",
			res.RunID, len(failed), failed)
		return run.abort(metrics.PhaseMap, failed, nil)
	}

	// Phase 3: reduce, inputs in chunk-index order
	run.to(StateReducing)
	run.clock.Start(metrics.PhaseReduce)
	reduceURL := cluster.ReduceURL(p.cfg.ReducerURL, unit.Bucket, mapped.OutputKeys())
	outcome, err := p.caller.Call(ctx, reduceURL, "Reducer")
	run.clock.Stop(metrics.PhaseReduce)
	if err != nil {
		return run.abort(metrics.PhaseReduce, nil, err)
	}
	var summary ReduceSummary
	if err := outcome.Decode(&summary); err != nil {
		return run.abort(metrics.PhaseReduce, nil, fmt.Errorf("decode reduce response: %w", err))
	}
	res.Reduce = &summary

	run.to(StateDone)
	run.clock.Stop(metrics.PhaseTotal)
	log.Printf("[%s] PIPELINE COMPLETE: %d unique words, output %s", res.RunID, summary.UniqueWords, summary.Output)
	return res, nil
}

// Sweep runs the pipeline once per chunk count and returns the summaries of
// the runs that completed. Aborted runs are logged and skipped.
func (p *Pipeline) Sweep(ctx context.Context, counts []int) []metrics.Summary {
	var out []metrics.Summary
	for _, n := range counts {
		log.Printf("--- testing with %d chunk(s) ---", n)
		res, err := p.Run(ctx, p.Unit(n))
		if err != nil {
			log.Printf("sweep: %d chunk(s): %v", n, err)
			continue
		}
		out = append(out, res.Summary())
	}
	return out
}

func (p *Pipeline) preflight(ctx context.Context, runID string) {
	if p.checker == nil {
		return
	}
	for _, h := range p.checker.CheckAll(ctx) {
		if h.Status != health.StatusHealthy {
			log.Printf("[%s] pre-flight: mapper %s is %s: %v", runID, h.Addr, h.Status, h.LastErr)
		}
	}
}

type runState struct {
	*Result
	clock *metrics.Stopwatch
}

func (r *runState) to(next State) {
	if !CanTransition(r.State, next) {
		panic(fmt.Sprintf("pipeline: illegal transition %s → %s", r.State, next))
	}
	r.State = next
	r.Trace = append(r.Trace, next)
}

func (r *runState) abort(phase metrics.Phase, failed []int, err error) (*Result, error) {
	r.to(StateAborted)
	r.clock.Stop(metrics.PhaseTotal)
	aerr := &AbortError{Phase: phase, FailedChunks: failed, Err: err}
	log.Printf("[%s] %v", r.RunID, aerr)
	return r.Result, aerr
}

func newRunID() string {
	return "run-" + uuid.New().String()[:8]
}
