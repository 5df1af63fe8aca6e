package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mapred/internal/cluster"
	"github.com/dreamware/mapred/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const hamlet = `To be, or not to be, that is the question:
Whether 'tis nobler in the mind to suffer
The slings and arrows of outrageous fortune,
Or to take arms against a sea of troubles
`

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"split", RoleSplit, false},
		{"MAP", RoleMap, false},
		{" reduce ", RoleReduce, false},
		{"all", RoleAll, false},
		{"", RoleAll, false},
		{"shuffle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealth(t *testing.T) {
	r := NewRouter(New(storage.NewMemoryStore()), RoleMap)
	rec := do(t, r, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body cluster.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestRoleRouting(t *testing.T) {
	r := NewRouter(New(storage.NewMemoryStore()), RoleMap)

	assert.Equal(t, http.StatusNotFound, do(t, r, "/split?bucket=b&key=k&num_chunks=1").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, "/reduce?bucket=b&keys=a").Code)
	assert.NotEqual(t, http.StatusNotFound, do(t, r, "/map").Code)
}

func TestSplitHandler(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "b", "hamlet.txt", []byte(hamlet)))
	r := NewRouter(New(store), RoleSplit)

	rec := do(t, r, cluster.SplitURL("", "b", "hamlet.txt", 3))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body cluster.SplitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Chunks)
	assert.Equal(t, []string{"chunks/chunk_0.txt", "chunks/chunk_1.txt", "chunks/chunk_2.txt"}, body.Keys)

	var joined strings.Builder
	for _, k := range body.Keys {
		data, err := store.Get(ctx, "b", k)
		require.NoError(t, err)
		joined.Write(data)
	}
	assert.Equal(t, hamlet, joined.String())
}

func TestSplitHandlerErrors(t *testing.T) {
	store := storage.NewMemoryStore()
	r := NewRouter(New(store), RoleSplit)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing params", "/split?bucket=b", http.StatusBadRequest},
		{"zero chunks", "/split?bucket=b&key=k&num_chunks=0", http.StatusBadRequest},
		{"non-numeric chunks", "/split?bucket=b&key=k&num_chunks=three", http.StatusBadRequest},
		{"missing source", "/split?bucket=b&key=absent.txt&num_chunks=2", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestSplitHandlerRejectsTooManyChunks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "b", "k", []byte("one\ntwo\n")))
	r := NewRouter(New(store), RoleSplit)

	rec := do(t, r, fmt.Sprintf("/split?bucket=b&key=k&num_chunks=%d", MaxChunks+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at most 1000")

	keys, err := store.List(ctx, "b", "chunks/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	rec = do(t, r, fmt.Sprintf("/split?bucket=b&key=k&num_chunks=%d", MaxChunks))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMapHandler(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "b", "chunks/chunk_0.txt", []byte("To be, or NOT to be!")))
	r := NewRouter(New(store), RoleMap)

	rec := do(t, r, cluster.MapURL("", "b", "chunks/chunk_0.txt", "results/mapper_0.json"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body cluster.MapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "map complete", body.Message)
	assert.Equal(t, "s3://b/results/mapper_0.json", body.Output)
	assert.Equal(t, 4, body.UniqueWords)
	assert.Equal(t, 6, body.TotalWords)

	data, err := store.Get(ctx, "b", "results/mapper_0.json")
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(data, &counts))
	assert.Equal(t, map[string]int{"to": 2, "be": 2, "or": 1, "not": 1}, counts)
}

func TestMapHandlerErrors(t *testing.T) {
	r := NewRouter(New(storage.NewMemoryStore()), RoleMap)

	assert.Equal(t, http.StatusBadRequest, do(t, r, "/map?bucket=b&key=k").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, "/map?bucket=b&key=k&output_key=o").Code)
}

func TestReduceHandler(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "b", "results/mapper_0.json", []byte(`{"to":2,"be":2}`)))
	require.NoError(t, store.Put(ctx, "b", "results/mapper_1.json", []byte(`{"be":1,"question":1}`)))
	r := NewRouter(New(store), RoleReduce)

	rec := do(t, r, cluster.ReduceURL("", "b", []string{"results/mapper_0.json", "results/mapper_1.json"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body cluster.ReduceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "s3://b/"+FinalKey, body.Output)
	assert.Equal(t, 3, body.UniqueWords)
	assert.Equal(t, 2, body.MappersProcessed)

	data, err := store.Get(ctx, "b", FinalKey)
	require.NoError(t, err)
	var final map[string]int
	require.NoError(t, json.Unmarshal(data, &final))
	assert.Equal(t, map[string]int{"to": 2, "be": 3, "question": 1}, final)
}

func TestReduceHandlerErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "b", "results/bad.json", []byte(`not json`)))
	r := NewRouter(New(store), RoleReduce)

	assert.Equal(t, http.StatusBadRequest, do(t, r, "/reduce?bucket=b").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, "/reduce?bucket=b&keys=results/missing.json").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, r, "/reduce?bucket=b&keys=results/bad.json").Code)

	_, err := store.Get(ctx, "b", FinalKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// failingStore fails every write
type failingStore struct {
	*storage.MemoryStore
}

func (f failingStore) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func TestStorageWriteFailure(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, "b", "chunks/chunk_0.txt", []byte("words")))
	r := NewRouter(New(failingStore{mem}), RoleAll)

	rec := do(t, r, "/map?bucket=b&key=chunks/chunk_0.txt&output_key=results/mapper_0.json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want []string
	}{
		{"even", "a\nb\nc\nd\n", 2, []string{"a\nb\n", "c\nd\n"}},
		{"uneven", "a\nb\nc\nd\ne\n", 3, []string{"a\nb\n", "c\nd\n", "e\n"}},
		{"no trailing newline", "a\nb\nc", 2, []string{"a\nb\n", "c"}},
		{"more chunks than lines", "a\n", 3, []string{"a\n", "", ""}},
		{"empty", "", 2, []string{"", ""}},
		{"single", "a\nb\n", 1, []string{"a\nb\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitLines(tt.text, tt.n))
		})
	}
}

func TestCountWords(t *testing.T) {
	counts, total := CountWords(`"Hello," she said. HELLO! (hello) -- ...`)
	assert.Equal(t, 7, total)
	assert.Equal(t, map[string]int{"hello": 3, "she": 1, "said": 1, "--": 1}, counts)
}

func TestMerge(t *testing.T) {
	dst := map[string]int{"a": 1}
	Merge(dst, map[string]int{"a": 2, "b": 1})
	assert.Equal(t, map[string]int{"a": 3, "b": 1}, dst)
}
