package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds a single request to a worker.
const DefaultRequestTimeout = 30 * time.Second

// ErrMalformedBody is returned when a worker answers 200 with a body that is not JSON.
var ErrMalformedBody = errors.New("malformed response body")

// StatusError reports a non-200 answer from a worker.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Status)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Status, e.Body)
}

// SplitResponse is the body returned by a splitter's /split endpoint.
type SplitResponse struct {
	Message string   `json:"message"`
	Chunks  int      `json:"chunks"`
	Keys    []string `json:"keys,omitempty"`
}

// MapResponse is the body returned by a mapper's /map endpoint.
type MapResponse struct {
	Message     string `json:"message"`
	Output      string `json:"output"`
	UniqueWords int    `json:"unique_words"`
	TotalWords  int    `json:"total_words"`
}

// ReduceResponse is the body returned by a reducer's /reduce endpoint.
type ReduceResponse struct {
	Message          string `json:"message"`
	Output           string `json:"output"`
	UniqueWords      int    `json:"unique_words"`
	MappersProcessed int    `json:"mappers_processed"`
}

// HealthResponse is the body returned by every worker's /health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// SplitURL builds the splitter request for a source object and chunk count.
func SplitURL(base, bucket, key string, numChunks int) string {
	q := url.Values{}
	q.Set("bucket", bucket)
	q.Set("key", key)
	q.Set("num_chunks", strconv.Itoa(numChunks))
	return endpoint(base, "/split") + "?" + q.Encode()
}

// MapURL builds the mapper request for one chunk.
func MapURL(base, bucket, key, outputKey string) string {
	q := url.Values{}
	q.Set("bucket", bucket)
	q.Set("key", key)
	q.Set("output_key", outputKey)
	return endpoint(base, "/map") + "?" + q.Encode()
}

// ReduceURL builds the reducer request. Keys are joined in the order given.
func ReduceURL(base, bucket string, keys []string) string {
	q := url.Values{}
	q.Set("bucket", bucket)
	q.Set("keys", strings.Join(keys, ","))
	return endpoint(base, "/reduce") + "?" + q.Encode()
}

// HealthURL accepts both full URLs and host:port addresses.
func HealthURL(addr string) string {
	u := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		u = "http://" + addr
	}
	if strings.HasSuffix(u, "/health") {
		return u
	}
	return endpoint(u, "/health")
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// NewHTTPClient returns a client whose Timeout bounds one request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Fetch performs one GET and returns the raw JSON body.
// Anything but a 200 with a valid JSON body is an error.
func Fetch(ctx context.Context, client *http.Client, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: %w", url, ErrMalformedBody)
	}
	return json.RawMessage(body), nil
}

// GetJSON fetches url and decodes the body into out.
func GetJSON(ctx context.Context, client *http.Client, url string, out any) error {
	body, err := Fetch(ctx, client, url)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
