package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dreamware/mapred/internal/chunk"
	"github.com/dreamware/mapred/internal/cluster"
	"github.com/dreamware/mapred/internal/storage"
)

// FinalKey is where the reducer writes the merged counts.
const FinalKey = "results/final_counts.json"

// MaxChunks caps num_chunks on /split. Each chunk is one stored object.
const MaxChunks = 1000

// trimSet is stripped from both ends of every token before counting.
const trimSet = ".,!?;:\"'()[]{}"

// Role selects which endpoints a worker serves.
type Role string

const (
	RoleSplit  Role = "split"
	RoleMap    Role = "map"
	RoleReduce Role = "reduce"
	RoleAll    Role = "all"
)

// ParseRole validates a role name from the environment.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSplit, RoleMap, RoleReduce, RoleAll:
		return r, nil
	case "":
		return RoleAll, nil
	default:
		return "", fmt.Errorf("unknown worker role %q", s)
	}
}

// Service holds the handlers of the word-count workers. Every handler reads
// and writes objects through store; handlers keep no state between requests.
type Service struct {
	store storage.Store
}

// New creates a Service backed by store
func New(store storage.Store) *Service {
	return &Service{store: store}
}

// NewRouter builds a gin engine serving /health plus the endpoints of role.
func NewRouter(s *Service, role Role) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r, role)
	return r
}

// Register attaches the handlers for role to r.
func (s *Service) Register(r gin.IRoutes, role Role) {
	r.GET("/health", s.handleHealth)
	if role == RoleSplit || role == RoleAll {
		r.GET("/split", s.handleSplit)
	}
	if role == RoleMap || role == RoleAll {
		r.GET("/map", s.handleMap)
	}
	if role == RoleReduce || role == RoleAll {
		r.GET("/reduce", s.handleReduce)
	}
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, cluster.HealthResponse{Status: "healthy"})
}

// handleSplit cuts the source object into num_chunks line-balanced chunks
// stored under chunk.ChunkKey(i).
func (s *Service) handleSplit(c *gin.Context) {
	bucket := c.Query("bucket")
	key := c.Query("key")
	raw := c.Query("num_chunks")
	if bucket == "" || key == "" || raw == "" {
		badRequest(c, "bucket, key, and num_chunks query params required")
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		badRequest(c, fmt.Sprintf("num_chunks must be a positive integer, got %q", raw))
		return
	}
	if n > MaxChunks {
		badRequest(c, fmt.Sprintf("num_chunks must be at most %d, got %d", MaxChunks, n))
		return
	}

	ctx := c.Request.Context()
	body, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		storageError(c, "failed to get source object", err)
		return
	}

	parts := SplitLines(string(body), n)
	keys := make([]string, len(parts))
	for i, part := range parts {
		keys[i] = chunk.ChunkKey(i)
		if err := s.store.Put(ctx, bucket, keys[i], []byte(part)); err != nil {
			storageError(c, "failed to upload chunk", err)
			return
		}
	}

	log.Printf("split s3://%s/%s into %d chunks", bucket, key, n)
	c.JSON(http.StatusOK, cluster.SplitResponse{
		Message: "split complete",
		Chunks:  n,
		Keys:    keys,
	})
}

// handleMap counts the words of one chunk and stores the counts as JSON.
func (s *Service) handleMap(c *gin.Context) {
	bucket := c.Query("bucket")
	key := c.Query("key")
	outputKey := c.Query("output_key")
	if bucket == "" || key == "" || outputKey == "" {
		badRequest(c, "bucket, key, and output_key query params required")
		return
	}

	ctx := c.Request.Context()
	body, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		storageError(c, "failed to get chunk", err)
		return
	}

	counts, total := CountWords(string(body))
	data, err := json.Marshal(counts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to marshal JSON: %v", err)})
		return
	}
	if err := s.store.Put(ctx, bucket, outputKey, data); err != nil {
		storageError(c, "failed to upload results", err)
		return
	}

	c.JSON(http.StatusOK, cluster.MapResponse{
		Message:     "map complete",
		Output:      storage.URI(bucket, outputKey),
		UniqueWords: len(counts),
		TotalWords:  total,
	})
}

// handleReduce merges every mapper output named in keys into FinalKey.
func (s *Service) handleReduce(c *gin.Context) {
	bucket := c.Query("bucket")
	keysParam := c.Query("keys")
	if bucket == "" || keysParam == "" {
		badRequest(c, "bucket and keys query params required")
		return
	}

	ctx := c.Request.Context()
	keys := strings.Split(keysParam, ",")
	final := make(map[string]int)
	for _, key := range keys {
		key = strings.TrimSpace(key)
		body, err := s.store.Get(ctx, bucket, key)
		if err != nil {
			storageError(c, "failed to get "+key, err)
			return
		}
		var counts map[string]int
		if err := json.Unmarshal(body, &counts); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to parse %s: %v", key, err)})
			return
		}
		Merge(final, counts)
	}

	data, err := json.Marshal(final)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to marshal final JSON: %v", err)})
		return
	}
	if err := s.store.Put(ctx, bucket, FinalKey, data); err != nil {
		storageError(c, "failed to upload final results", err)
		return
	}

	c.JSON(http.StatusOK, cluster.ReduceResponse{
		Message:          "reduce complete",
		Output:           storage.URI(bucket, FinalKey),
		UniqueWords:      len(final),
		MappersProcessed: len(keys),
	})
}

// SplitLines divides text into n contiguous groups of lines whose sizes
// differ by at most one. Always returns n parts; trailing parts may be empty
// when text has fewer than n lines.
func SplitLines(text string, n int) []string {
	var lines []string
	if text != "" {
		lines = strings.SplitAfter(text, "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
	}

	parts := make([]string, n)
	base, extra := len(lines)/n, len(lines)%n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		parts[i] = strings.Join(lines[start:start+size], "")
		start += size
	}
	return parts
}

// CountWords lower-cases and trims punctuation from each whitespace
// separated token. It returns the per-word counts and the raw token count.
func CountWords(text string) (map[string]int, int) {
	counts := make(map[string]int)
	words := strings.Fields(text)
	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, trimSet))
		if cleaned != "" {
			counts[cleaned]++
		}
	}
	return counts, len(words)
}

// Merge adds src's counts into dst
func Merge(dst, src map[string]int) {
	for word, n := range src {
		dst[word] += n
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func storageError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", msg, err)})
}
