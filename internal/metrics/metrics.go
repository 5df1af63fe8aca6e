// Package metrics records phase wall-clock times and renders run summaries.
package metrics

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"
)

// Phase names a pipeline phase.
type Phase string

const (
	PhaseSplit  Phase = "split"
	PhaseMap    Phase = "map"
	PhaseReduce Phase = "reduce"
	PhaseTotal  Phase = "total"
)

// Timings holds the wall-clock duration of each phase. A phase that never
// ran is zero. Map is the span of the concurrent join, never a sum of chunk
// times.
type Timings struct {
	Split  time.Duration `json:"split"`
	Map    time.Duration `json:"map"`
	Reduce time.Duration `json:"reduce"`
	Total  time.Duration `json:"total"`
}

// Stopwatch records start and end times per phase. Safe for concurrent use.
type Stopwatch struct {
	now    func() time.Time
	starts map[Phase]time.Time
	spans  map[Phase]time.Duration
	mu     sync.Mutex
}

// NewStopwatch returns a stopwatch on the wall clock.
func NewStopwatch() *Stopwatch {
	return NewStopwatchWithClock(time.Now)
}

// NewStopwatchWithClock returns a stopwatch reading time from now.
func NewStopwatchWithClock(now func() time.Time) *Stopwatch {
	return &Stopwatch{
		now:    now,
		starts: make(map[Phase]time.Time),
		spans:  make(map[Phase]time.Duration),
	}
}

// Start marks the beginning of p.
func (s *Stopwatch) Start(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts[p] = s.now()
}

// Stop marks the end of p and returns its duration. Stopping a phase that
// was never started records nothing.
func (s *Stopwatch) Stop(p Phase) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.starts[p]
	if !ok {
		return 0
	}
	d := s.now().Sub(start)
	if d < 0 {
		d = 0
	}
	s.spans[p] = d
	delete(s.starts, p)
	return d
}

// Set records an externally measured duration for p.
func (s *Stopwatch) Set(p Phase, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans[p] = d
}

// Timings returns the recorded spans.
func (s *Stopwatch) Timings() Timings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Timings{
		Split:  s.spans[PhaseSplit],
		Map:    s.spans[PhaseMap],
		Reduce: s.spans[PhaseReduce],
		Total:  s.spans[PhaseTotal],
	}
}

// Summary is the structured report of one successful run.
type Summary struct {
	RunID       string  `json:"run_id"`
	Output      string  `json:"output"`
	Timings     Timings `json:"timings"`
	NumChunks   int     `json:"num_chunks"`
	NumMappers  int     `json:"num_mappers"`
	UniqueWords int     `json:"unique_words"`
	// Throughput is chunks mapped per second of map wall time.
	Throughput float64 `json:"throughput"`
}

// Throughput returns chunks per second over the map wall time, 0 when the
// map phase took no measurable time.
func Throughput(numChunks int, mapWall time.Duration) float64 {
	if mapWall <= 0 {
		return 0
	}
	return float64(numChunks) / mapWall.Seconds()
}

// WriteSummary prints a run summary.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Split time:\t%.3fs\n", s.Timings.Split.Seconds())
	fmt.Fprintf(tw, "Map time:\t%.3fs (wall clock, %d chunks, %d mappers)\n", s.Timings.Map.Seconds(), s.NumChunks, s.NumMappers)
	fmt.Fprintf(tw, "Reduce time:\t%.3fs\n", s.Timings.Reduce.Seconds())
	fmt.Fprintf(tw, "Total time:\t%.3fs\n", s.Timings.Total.Seconds())
	fmt.Fprintf(tw, "Throughput:\t%.2f chunks/s\n", s.Throughput)
	fmt.Fprintf(tw, "Unique words:\t%d\n", s.UniqueWords)
	fmt.Fprintf(tw, "Output:\t%s\n", s.Output)
	return tw.Flush()
}

// WriteSweep tabulates a scaling experiment.
func WriteSweep(w io.Writer, runs []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Chunks\tMap Time\tTotal Time\tChunks/s\tUnique Words")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%.3fs\t%.3fs\t%.2f\t%d\n",
			r.NumChunks, r.Timings.Map.Seconds(), r.Timings.Total.Seconds(), r.Throughput, r.UniqueWords)
	}
	return tw.Flush()
}

// Mean averages each phase over runs.
func Mean(runs []Timings) Timings {
	if len(runs) == 0 {
		return Timings{}
	}
	var sum Timings
	for _, r := range runs {
		sum.Split += r.Split
		sum.Map += r.Map
		sum.Reduce += r.Reduce
		sum.Total += r.Total
	}
	n := time.Duration(len(runs))
	return Timings{
		Split:  sum.Split / n,
		Map:    sum.Map / n,
		Reduce: sum.Reduce / n,
		Total:  sum.Total / n,
	}
}

// Comparison is the result of running the same work on a one-mapper pool and
// on the full pool.
type Comparison struct {
	Sequential Timings
	Parallel   Timings
	// Speedup is the mean of per-run sequential/parallel total ratios.
	Speedup float64
	// MapSpeedup is mean sequential map time over mean parallel map time.
	MapSpeedup float64
}

// Compare pairs sequential and parallel runs index by index. Runs beyond the
// shorter slice are ignored.
func Compare(sequential, parallel []Timings) Comparison {
	n := len(sequential)
	if len(parallel) < n {
		n = len(parallel)
	}
	c := Comparison{
		Sequential: Mean(sequential[:n]),
		Parallel:   Mean(parallel[:n]),
	}
	var ratios float64
	counted := 0
	for i := 0; i < n; i++ {
		if parallel[i].Total > 0 {
			ratios += float64(sequential[i].Total) / float64(parallel[i].Total)
			counted++
		}
	}
	if counted > 0 {
		c.Speedup = ratios / float64(counted)
	}
	if c.Parallel.Map > 0 {
		c.MapSpeedup = float64(c.Sequential.Map) / float64(c.Parallel.Map)
	}
	return c
}

// WriteComparison prints averaged timings and speedups.
func WriteComparison(w io.Writer, c Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Phase\tSequential\tParallel")
	fmt.Fprintf(tw, "Split\t%.3fs\t%.3fs\n", c.Sequential.Split.Seconds(), c.Parallel.Split.Seconds())
	fmt.Fprintf(tw, "Map\t%.3fs\t%.3fs\n", c.Sequential.Map.Seconds(), c.Parallel.Map.Seconds())
	fmt.Fprintf(tw, "Reduce\t%.3fs\t%.3fs\n", c.Sequential.Reduce.Seconds(), c.Parallel.Reduce.Seconds())
	fmt.Fprintf(tw, "Total\t%.3fs\t%.3fs\n", c.Sequential.Total.Seconds(), c.Parallel.Total.Seconds())
	fmt.Fprintf(tw, "Avg speedup:\t%.2fx\t\n", c.Speedup)
	fmt.Fprintf(tw, "Map phase speedup:\t%.2fx\t\n", c.MapSpeedup)
	return tw.Flush()
}
