// Package config holds the orchestrator configuration. Endpoints, the worker
// pool and the retry policy are passed explicitly to the pipeline instead of
// living in process-wide variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	SplitterURL string   `yaml:"splitter_url"`
	MapperURLs  []string `yaml:"mapper_urls"`
	ReducerURL  string   `yaml:"reducer_url"`

	Bucket   string `yaml:"bucket"`
	InputKey string `yaml:"input_key"`

	Retry          RetryPolicy   `yaml:"retry"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PreflightHealth checks the mapper pool before the map phase. Results are
	// only logged.
	PreflightHealth bool `yaml:"preflight_health"`

	// SweepChunkCounts drives the scaling experiment.
	SweepChunkCounts []int `yaml:"sweep_chunk_counts"`
	// CompareRuns is the number of repetitions of the sequential/parallel comparison.
	CompareRuns int `yaml:"compare_runs"`
	// DemoURL must be unreachable; the retry demo calls it.
	DemoURL string `yaml:"demo_url"`
}

// RetryPolicy bounds the attempts of a single call.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// Default returns the configuration used for local runs: every service on
// localhost, one mapper, three attempts two seconds apart.
func Default() Config {
	return Config{
		SplitterURL: "http://localhost:8080",
		MapperURLs:  []string{"http://localhost:8081"},
		ReducerURL:  "http://localhost:8082",
		Bucket:      "mapreduce-bucket",
		InputKey:    "shakespeare-hamlet.txt",
		Retry: RetryPolicy{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
		},
		RequestTimeout:   30 * time.Second,
		SweepChunkCounts: []int{1, 2, 3, 5, 10},
		CompareRuns:      5,
		DemoURL:          "http://localhost:9999/map?bucket=test&key=test&output_key=test",
	}
}

// Load reads a YAML file on top of Default. Fields absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, leaving unset fields untouched.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// FromEnv applies MR_* environment overrides to cfg.
func FromEnv(cfg Config) (Config, error) {
	cfg.SplitterURL = getenv("MR_SPLITTER_URL", cfg.SplitterURL)
	cfg.ReducerURL = getenv("MR_REDUCER_URL", cfg.ReducerURL)
	cfg.Bucket = getenv("MR_BUCKET", cfg.Bucket)
	cfg.InputKey = getenv("MR_INPUT_KEY", cfg.InputKey)
	cfg.DemoURL = getenv("MR_DEMO_URL", cfg.DemoURL)

	if v := os.Getenv("MR_MAPPER_URLS"); v != "" {
		cfg.MapperURLs = splitList(v)
	}
	if v := os.Getenv("MR_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MR_MAX_ATTEMPTS: %w", err)
		}
		cfg.Retry.MaxAttempts = n
	}
	if v := os.Getenv("MR_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("MR_RETRY_DELAY: %w", err)
		}
		cfg.Retry.Delay = d
	}
	if v := os.Getenv("MR_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("MR_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	return cfg, nil
}

// Validate reports the first problem that would make a pipeline run meaningless.
func (c Config) Validate() error {
	if c.SplitterURL == "" {
		return errors.New("splitter_url is required")
	}
	if c.ReducerURL == "" {
		return errors.New("reducer_url is required")
	}
	if len(c.MapperURLs) == 0 {
		return errors.New("mapper_urls must contain at least one worker")
	}
	for i, u := range c.MapperURLs {
		if u == "" {
			return fmt.Errorf("mapper_urls[%d] is empty", i)
		}
	}
	if c.Bucket == "" || c.InputKey == "" {
		return errors.New("bucket and input_key are required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must not be negative, got %v", c.Retry.Delay)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	}
	for _, n := range c.SweepChunkCounts {
		if n < 1 {
			return fmt.Errorf("sweep_chunk_counts entries must be >= 1, got %d", n)
		}
	}
	return nil
}

// WithMappers returns a copy of c using the given pool.
func (c Config) WithMappers(pool []string) Config {
	c.MapperURLs = append([]string(nil), pool...)
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
