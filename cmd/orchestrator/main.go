// Package main implements the MapReduce orchestrator CLI. It drives the
// split, map and reduce workers over HTTP and reports timings.
//
// Modes:
//
//	orchestrator [-config file] [n]         run one pipeline with n chunks (default 3)
//	orchestrator retry-demo                 show retries against an unreachable URL
//	orchestrator scale                      run once per sweep_chunk_counts entry
//	orchestrator compare [-runs N]          sequential on one mapper vs parallel, averaged
//	orchestrator health [-watch interval]   check every configured worker
//
// Configuration comes from config.Default, then the optional YAML file, then
// MR_* environment variables:
//   - MR_SPLITTER_URL, MR_MAPPER_URLS (comma separated), MR_REDUCER_URL
//   - MR_BUCKET, MR_INPUT_KEY
//   - MR_MAX_ATTEMPTS, MR_RETRY_DELAY, MR_REQUEST_TIMEOUT
//   - MR_DEMO_URL
//
// A pipeline abort is reported in the log and the process still exits 0.
// Configuration and usage errors exit non-zero.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dreamware/mapred/internal/config"
	"github.com/dreamware/mapred/internal/health"
	"github.com/dreamware/mapred/internal/metrics"
	"github.com/dreamware/mapred/internal/pipeline"
	"github.com/dreamware/mapred/internal/retry"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2

	defaultChunks = 3
	demoAttempts  = 3
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	if code := run(os.Args[1:], os.Stdout); code != exitOK {
		os.Exit(code)
	}
}

// run parses args and dispatches to a mode. It returns the exit code.
func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "YAML configuration file")
	runs := fs.Int("runs", 0, "repetitions for compare (default: compare_runs from config)")
	watch := fs.Duration("watch", 0, "re-check interval for health; 0 checks once")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	mode := fs.Arg(0)
	rest := fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}
	// Flags are also accepted after the mode name.
	if err := fs.Parse(rest); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Printf("config: %v", err)
		return exitFailed
	}

	ctx := context.Background()

	switch mode {
	case "retry-demo":
		return runRetryDemo(ctx, cfg, stdout)
	case "scale":
		return runScale(ctx, cfg, stdout)
	case "compare":
		n := *runs
		if n <= 0 {
			n = cfg.CompareRuns
		}
		return runCompare(ctx, cfg, n, stdout)
	case "health":
		return runHealth(ctx, cfg, *watch, stdout)
	}

	n := defaultChunks
	if mode != "" {
		n, err = strconv.Atoi(mode)
		if err != nil || n < 1 {
			fmt.Fprintf(stdout, "usage: orchestrator [-config file] [n | retry-demo | scale | compare | health]\n")
			return exitUsage
		}
	}
	return runPipeline(ctx, cfg, n, stdout)
}

// loadConfig layers the YAML file (if any) and MR_* overrides on Default.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	return config.FromEnv(cfg)
}

func runPipeline(ctx context.Context, cfg config.Config, n int, stdout io.Writer) int {
	p, err := pipeline.New(cfg)
	if err != nil {
		log.Printf("%v", err)
		return exitFailed
	}

	banner(stdout, fmt.Sprintf("MapReduce pipeline: %d chunks, %d mapper(s)", n, len(cfg.MapperURLs)))
	res, err := p.Run(ctx, p.Unit(n))
	if err != nil {
		var aerr *pipeline.AbortError
		if errors.As(err, &aerr) {
			log.Printf("run %s aborted during %s phase; no summary: %v", res.RunID, aerr.Phase, err)
			return exitOK
		}
		log.Printf("pipeline: %v", err)
		return exitFailed
	}

	banner(stdout, "PIPELINE COMPLETE")
	if err := metrics.WriteSummary(stdout, res.Summary()); err != nil {
		logFatal("write summary: %v", err)
	}
	return exitOK
}

func runRetryDemo(ctx context.Context, cfg config.Config, stdout io.Writer) int {
	banner(stdout, "DEMO: retry logic")
	fmt.Fprintf(stdout, "Calling an unreachable URL to show %d attempts, then a permanent failure:\n", demoAttempts)
	fmt.Fprintf(stdout, "  %s\n", cfg.DemoURL)

	client := retry.NewClient(retry.Policy{
		MaxAttempts: demoAttempts,
		Delay:       cfg.Retry.Delay,
	}, cfg.RequestTimeout, retry.WithObserver(func(a retry.Attempt) {
		if a.Err == nil {
			return
		}
		fmt.Fprintf(stdout, "  attempt %d/%d failed after %.2fs: %v\n", a.Number, demoAttempts, a.Elapsed.Seconds(), a.Err)
	}))

	out, err := client.Call(ctx, cfg.DemoURL, "Demo (bad URL)")
	if err != nil {
		fmt.Fprintf(stdout, "Permanent failure: %v\n", err)
		return exitOK
	}
	fmt.Fprintf(stdout, "Unexpected success after %d attempt(s); is %s reachable?\n", out.Attempts, cfg.DemoURL)
	return exitOK
}

func runScale(ctx context.Context, cfg config.Config, stdout io.Writer) int {
	p, err := pipeline.New(cfg)
	if err != nil {
		log.Printf("%v", err)
		return exitFailed
	}

	banner(stdout, "SCALING EXPERIMENT")
	rows := p.Sweep(ctx, cfg.SweepChunkCounts)
	if err := metrics.WriteSweep(stdout, rows); err != nil {
		logFatal("write sweep: %v", err)
	}
	return exitOK
}

// runCompare mirrors the sequential/parallel experiment: the same chunk count
// mapped one call at a time on the first mapper, then fanned out across the
// full pool. Chunk count equals the pool size.
func runCompare(ctx context.Context, cfg config.Config, runs int, stdout io.Writer) int {
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid config: %v", err)
		return exitFailed
	}
	seq, err := pipeline.New(cfg.WithMappers(cfg.MapperURLs[:1]), pipeline.WithSequentialMap())
	if err != nil {
		log.Printf("%v", err)
		return exitFailed
	}
	par, err := pipeline.New(cfg)
	if err != nil {
		log.Printf("%v", err)
		return exitFailed
	}

	n := len(cfg.MapperURLs)
	var seqTimings, parTimings []metrics.Timings
	for i := 0; i < runs; i++ {
		banner(stdout, fmt.Sprintf("Run %d/%d", i+1, runs))
		s, err := seq.Run(ctx, seq.Unit(n))
		if err != nil {
			log.Printf("sequential run %d: %v", i+1, err)
			continue
		}
		p, err := par.Run(ctx, par.Unit(n))
		if err != nil {
			log.Printf("parallel run %d: %v", i+1, err)
			continue
		}
		seqTimings = append(seqTimings, s.Timings)
		parTimings = append(parTimings, p.Timings)
	}

	if len(seqTimings) == 0 {
		fmt.Fprintln(stdout, "No run completed on both pools.")
		return exitOK
	}
	banner(stdout, fmt.Sprintf("COMPARISON (%d run(s), %d chunks: sequential on 1 mapper vs parallel on %d)", len(seqTimings), n, n))
	if err := metrics.WriteComparison(stdout, metrics.Compare(seqTimings, parTimings)); err != nil {
		logFatal("write comparison: %v", err)
	}
	return exitOK
}

// runHealth checks the splitter, every mapper and the reducer. With watch > 0
// it keeps checking until interrupted. A single check exits 1 if any endpoint
// is unhealthy.
func runHealth(ctx context.Context, cfg config.Config, watch time.Duration, stdout io.Writer) int {
	m := health.NewMonitor(endpoints(cfg), watch, 1)

	if watch <= 0 {
		snap := m.CheckAll(ctx)
		writeHealth(stdout, snap)
		if len(m.Unhealthy()) > 0 {
			return exitFailed
		}
		return exitOK
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	m.SetOnUnhealthy(func(addr string) {
		log.Printf("worker %s became unhealthy", addr)
	})
	m.Start(ctx, func(snap []health.WorkerHealth) { writeHealth(stdout, snap) })
	m.Wait()
	return exitOK
}

// endpoints lists every configured worker once, in pipeline order.
func endpoints(cfg config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range append(append([]string{cfg.SplitterURL}, cfg.MapperURLs...), cfg.ReducerURL) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func writeHealth(w io.Writer, snap []health.WorkerHealth) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Endpoint\tStatus\tLatency\tError")
	for _, h := range snap {
		errText := ""
		if h.LastErr != nil {
			errText = h.LastErr.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", h.Addr, h.Status, h.Latency.Round(time.Millisecond), errText)
	}
	tw.Flush()
}

func banner(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n%s\n", "============================================================", title, "============================================================")
}
