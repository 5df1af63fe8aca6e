// Package health checks worker endpoints. Check results are informational:
// they are reported and logged, never used to change chunk assignment.
package health

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/mapred/internal/cluster"
)

// DefaultCheckTimeout bounds one health request unless SetTimeout changes it.
const DefaultCheckTimeout = 2 * time.Second

// Status values reported for an endpoint.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// WorkerHealth is the health record of one worker endpoint.
type WorkerHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	LastErr          error
	Addr             string
	Status           string
	Latency          time.Duration
	ConsecutiveFails int
}

// Monitor checks a fixed set of endpoints, once or periodically.
// Safe for concurrent use.
type Monitor struct {
	workers     map[string]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(addr string)
	addrs       []string
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewMonitor creates a monitor for addrs. An endpoint is reported unhealthy
// after maxFailures consecutive failed checks; values below 1 mean 1.
// interval is only used by Start; monitors that only call CheckAll pass 0.
func NewMonitor(addrs []string, interval time.Duration, maxFailures int) *Monitor {
	if maxFailures < 1 {
		maxFailures = 1
	}
	m := &Monitor{
		addrs:       append([]string(nil), addrs...),
		interval:    interval,
		maxFailures: maxFailures,
		workers:     make(map[string]*WorkerHealth),
		httpClient:  &http.Client{Timeout: DefaultCheckTimeout},
	}
	m.checkFunc = m.defaultCheck
	return m
}

// SetTimeout bounds each health request; d <= 0 keeps the current timeout.
func (m *Monitor) SetTimeout(d time.Duration) {
	if d > 0 {
		m.httpClient.Timeout = d
	}
}

// SetCheckFunction overrides the HTTP check. Used by tests.
func (m *Monitor) SetCheckFunction(f func(ctx context.Context, addr string) error) {
	m.checkFunc = f
}

// SetOnUnhealthy registers a callback fired when an endpoint turns unhealthy.
func (m *Monitor) SetOnUnhealthy(f func(addr string)) {
	m.onUnhealthy = f
}

// CheckAll checks every endpoint concurrently and returns a snapshot ordered
// like the configured addresses.
func (m *Monitor) CheckAll(ctx context.Context) []WorkerHealth {
	var wg sync.WaitGroup
	for _, addr := range m.addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			m.check(ctx, addr)
		}(addr)
	}
	wg.Wait()
	return m.Snapshot()
}

// Start checks all endpoints immediately and then every interval until ctx
// is canceled. With a non-positive interval it checks once and returns.
// It blocks; run it in a goroutine and call Wait after canceling.
func (m *Monitor) Start(ctx context.Context, report func([]WorkerHealth)) {
	m.wg.Add(1)
	defer m.wg.Done()

	if m.interval <= 0 {
		snap := m.CheckAll(ctx)
		if report != nil {
			report(snap)
		}
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("health monitor started for %d workers, interval %v", len(m.addrs), m.interval)
	for {
		snap := m.CheckAll(ctx)
		if report != nil {
			report(snap)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Println("health monitor stopping")
			return
		}
	}
}

// Wait blocks until Start has returned.
func (m *Monitor) Wait() { m.wg.Wait() }

// Snapshot returns copies of the current records in address order.
// Endpoints never checked are reported with StatusUnknown.
func (m *Monitor) Snapshot() []WorkerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]WorkerHealth, 0, len(m.addrs))
	for _, addr := range m.addrs {
		if h, ok := m.workers[addr]; ok {
			out = append(out, *h)
			continue
		}
		out = append(out, WorkerHealth{Addr: addr, Status: StatusUnknown})
	}
	return out
}

// Unhealthy returns the addresses currently reported unhealthy.
func (m *Monitor) Unhealthy() []string {
	var out []string
	for _, h := range m.Snapshot() {
		if h.Status == StatusUnhealthy {
			out = append(out, h.Addr)
		}
	}
	return out
}

func (m *Monitor) check(ctx context.Context, addr string) {
	m.mu.Lock()
	h, ok := m.workers[addr]
	if !ok {
		h = &WorkerHealth{Addr: addr, Status: StatusUnknown}
		m.workers[addr] = h
	}
	m.mu.Unlock()

	start := time.Now()
	err := m.checkFunc(ctx, addr)
	latency := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	h.LastCheck = time.Now()
	h.Latency = latency
	h.LastErr = err

	if err != nil {
		h.ConsecutiveFails++
		log.Printf("health check failed for %s (%d/%d): %v", addr, h.ConsecutiveFails, m.maxFailures, err)
		if h.ConsecutiveFails >= m.maxFailures {
			previous := h.Status
			h.Status = StatusUnhealthy
			if previous != StatusUnhealthy && m.onUnhealthy != nil {
				go m.onUnhealthy(addr)
			}
		}
		return
	}

	if h.Status == StatusUnhealthy {
		log.Printf("worker %s recovered", addr)
	}
	h.Status = StatusHealthy
	h.ConsecutiveFails = 0
	h.LastHealthy = h.LastCheck
}

func (m *Monitor) defaultCheck(ctx context.Context, addr string) error {
	var resp cluster.HealthResponse
	if err := cluster.GetJSON(ctx, m.httpClient, cluster.HealthURL(addr), &resp); err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if resp.Status != StatusHealthy {
		return fmt.Errorf("worker reports status %q", resp.Status)
	}
	return nil
}
