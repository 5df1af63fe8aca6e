package chunk

import (
	"errors"
	"fmt"
)

// Naming convention shared with the split and map workers. Chunk i of a
// work unit lives at ChunkKey(i); its mapper output at OutputKey(i).
const (
	chunkKeyFormat  = "chunks/chunk_%d.txt"
	outputKeyFormat = "results/mapper_%d.json"
)

// ErrEmptyPool is returned when a worker pool has no endpoints.
var ErrEmptyPool = errors.New("worker pool is empty")

// WorkUnit is the whole job: a source object and the desired chunk count.
type WorkUnit struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	NumChunks int    `json:"num_chunks"`
}

// Validate checks the unit before a pipeline starts.
func (u WorkUnit) Validate() error {
	if u.Bucket == "" || u.Key == "" {
		return errors.New("work unit needs a bucket and a key")
	}
	if u.NumChunks < 1 {
		return fmt.Errorf("num_chunks must be >= 1, got %d", u.NumChunks)
	}
	return nil
}

// Chunk is one partition of a WorkUnit.
type Chunk struct {
	Index     int    `json:"index"`
	Key       string `json:"key"`
	OutputKey string `json:"output_key"`
}

// ChunkKey is the locator of chunk i.
func ChunkKey(i int) string { return fmt.Sprintf(chunkKeyFormat, i) }

// OutputKey is the locator of the mapper output for chunk i.
func OutputKey(i int) string { return fmt.Sprintf(outputKeyFormat, i) }

// Split derives the n chunks of a unit from the naming convention.
func Split(n int) []Chunk {
	if n < 0 {
		n = 0
	}
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = Chunk{Index: i, Key: ChunkKey(i), OutputKey: OutputKey(i)}
	}
	return chunks
}

// Pool is an ordered, non-empty list of worker base URLs.
type Pool []string

// NewPool copies endpoints into a Pool.
func NewPool(endpoints []string) (Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyPool
	}
	for i, e := range endpoints {
		if e == "" {
			return nil, fmt.Errorf("worker %d has an empty address", i)
		}
	}
	return append(Pool(nil), endpoints...), nil
}

// Assign returns the worker for chunk i: pool[i mod len(pool)].
// Pure function of index and pool size; runtime load is never consulted.
func (p Pool) Assign(i int) string {
	return p[Slot(i, len(p))]
}

// Slot is the round-robin position of chunk i in a pool of size m.
func Slot(i, m int) int {
	s := i % m
	if s < 0 {
		s += m
	}
	return s
}

// Assignments maps every chunk index to its worker.
func (p Pool) Assignments(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = p.Assign(i)
	}
	return out
}
