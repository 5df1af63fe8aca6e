// Package retry wraps a single idempotent worker request in a bounded,
// fixed-delay retry loop.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dreamware/mapred/internal/cluster"
)

// ErrExhausted is matched by every *CallError.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds one call. MaxAttempts below 1 is treated as 1.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Outcome is the result of a successful call.
type Outcome struct {
	Payload  json.RawMessage
	Elapsed  time.Duration // latency of the successful attempt
	Attempts int
}

// Decode unmarshals the payload into v.
func (o Outcome) Decode(v any) error {
	return json.Unmarshal(o.Payload, v)
}

// CallError is the permanent failure of a call after every attempt failed.
type CallError struct {
	Description string
	Attempts    int
	Last        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Description, e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrExhausted) true for every CallError.
func (e *CallError) Is(target error) bool { return target == ErrExhausted }

func (e *CallError) Unwrap() error { return e.Last }

// Attempt describes one try, reported to the Observer.
type Attempt struct {
	Description string
	URL         string
	Number      int
	Elapsed     time.Duration
	Err         error // nil on success
}

// Observer receives every attempt. It is called from the calling goroutine
// and must be safe for concurrent use when the client is shared.
type Observer func(Attempt)

// FetchFunc performs one request. cluster.Fetch is the production implementation.
type FetchFunc func(ctx context.Context, client *http.Client, url string) (json.RawMessage, error)

// Client issues retried GET requests against worker endpoints.
// Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	fetch      FetchFunc
	sleep      func(ctx context.Context, d time.Duration) error
	observer   Observer
	policy     Policy
}

// Option configures a Client.
type Option func(*Client)

// WithFetch replaces the transport. Used by tests and the retry demo.
func WithFetch(f FetchFunc) Option {
	return func(c *Client) { c.fetch = f }
}

// WithSleep replaces the delay between attempts.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = f }
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithHTTPClient replaces the HTTP client. Its Timeout bounds each attempt.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client with the given policy and per-request timeout.
func NewClient(policy Policy, timeout time.Duration, opts ...Option) *Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Client{
		httpClient: cluster.NewHTTPClient(timeout),
		fetch:      cluster.Fetch,
		sleep:      sleepContext,
		policy:     policy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the client's retry policy.
func (c *Client) Policy() Policy { return c.policy }

// Call requests url up to MaxAttempts times, sleeping Delay between failed
// attempts. The first success ends the loop. After the last failure it
// returns a *CallError carrying description and the last reason.
func (c *Client) Call(ctx context.Context, url, description string) (Outcome, error) {
	var last error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		start := time.Now()
		payload, err := c.fetch(ctx, c.httpClient, url)
		elapsed := time.Since(start)

		c.observe(Attempt{Description: description, URL: url, Number: attempt, Elapsed: elapsed, Err: err})

		if err == nil {
			log.Printf("%s succeeded in %.3fs (attempt %d)", description, elapsed.Seconds(), attempt)
			return Outcome{Payload: payload, Elapsed: elapsed, Attempts: attempt}, nil
		}
		last = err
		log.Printf("%s failed (attempt %d/%d): %v", description, attempt, c.policy.MaxAttempts, err)

		if attempt < c.policy.MaxAttempts {
			log.Printf("%s: retrying in %v", description, c.policy.Delay)
			if serr := c.sleep(ctx, c.policy.Delay); serr != nil {
				return Outcome{}, &CallError{Description: description, Attempts: attempt, Last: serr}
			}
		}
	}
	return Outcome{}, &CallError{Description: description, Attempts: c.policy.MaxAttempts, Last: last}
}

func (c *Client) observe(a Attempt) {
	if c.observer != nil {
		c.observer(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
