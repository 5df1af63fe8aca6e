package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/mapred/internal/config"
	"github.com/dreamware/mapred/internal/storage"
	"github.com/dreamware/mapred/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const text = `To be, or not to be, that is the question:
Whether 'tis nobler in the mind to suffer
The slings and arrows of outrageous fortune,
Or to take arms against a sea of troubles
And by opposing end them.
`

// startCluster serves splitter, mappers and reducer from one shared store
// and points the MR_* environment at them.
func startCluster(t *testing.T, mappers int, broken ...int) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "b", "hamlet.txt", []byte(text)))
	svc := worker.New(store)

	serve := func(role worker.Role) string {
		srv := httptest.NewServer(worker.NewRouter(svc, role))
		t.Cleanup(srv.Close)
		return srv.URL
	}

	isBroken := map[int]bool{}
	for _, i := range broken {
		isBroken[i] = true
	}
	var urls []string
	for i := 0; i < mappers; i++ {
		if isBroken[i] {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "mapper down", http.StatusInternalServerError)
			}))
			t.Cleanup(srv.Close)
			urls = append(urls, srv.URL)
			continue
		}
		urls = append(urls, serve(worker.RoleMap))
	}

	t.Setenv("MR_SPLITTER_URL", serve(worker.RoleSplit))
	t.Setenv("MR_REDUCER_URL", serve(worker.RoleReduce))
	t.Setenv("MR_MAPPER_URLS", strings.Join(urls, ","))
	t.Setenv("MR_BUCKET", "b")
	t.Setenv("MR_INPUT_KEY", "hamlet.txt")
	t.Setenv("MR_RETRY_DELAY", "1ms")
	t.Setenv("MR_REQUEST_TIMEOUT", "2s")
}

func TestRunDefaultPipeline(t *testing.T) {
	startCluster(t, 2)
	var out bytes.Buffer

	code := run(nil, &out)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "3 chunks, 2 mapper(s)")
	assert.Contains(t, out.String(), "PIPELINE COMPLETE")
	assert.Contains(t, out.String(), "s3://b/results/final_counts.json")
}

func TestRunWithChunkCount(t *testing.T) {
	startCluster(t, 1)
	var out bytes.Buffer

	code := run([]string{"5"}, &out)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "5 chunks, 1 mapper(s)")
}

func TestRunAbortExitsZeroWithoutSummary(t *testing.T) {
	startCluster(t, 3, 1)
	var out bytes.Buffer

	code := run([]string{"3"}, &out)

	assert.Equal(t, exitOK, code)
	assert.NotContains(t, out.String(), "PIPELINE COMPLETE")
	assert.NotContains(t, out.String(), "Unique words")
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"non-numeric chunk count", []string{"many"}, exitUsage},
		{"zero chunks", []string{"0"}, exitUsage},
		{"unknown flag", []string{"-bogus"}, exitUsage},
		{"missing config file", []string{"-config", "/nonexistent/mapred.yaml"}, exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.want, run(tt.args, &out))
		})
	}
}

func TestRunInvalidEnv(t *testing.T) {
	t.Setenv("MR_MAX_ATTEMPTS", "lots")
	var out bytes.Buffer
	assert.Equal(t, exitFailed, run(nil, &out))
}

func TestRetryDemo(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL + "/map?bucket=test&key=test&output_key=test"
	dead.Close()

	t.Setenv("MR_DEMO_URL", url)
	t.Setenv("MR_RETRY_DELAY", "1ms")
	var out bytes.Buffer

	code := run([]string{"retry-demo"}, &out)

	assert.Equal(t, exitOK, code)
	s := out.String()
	assert.Contains(t, s, "attempt 1/3 failed")
	assert.Contains(t, s, "attempt 3/3 failed")
	assert.NotContains(t, s, "attempt 4/")
	assert.Contains(t, s, "Permanent failure")
}

func TestScale(t *testing.T) {
	startCluster(t, 2)
	path := filepath.Join(t.TempDir(), "mapred.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sweep_chunk_counts: [1, 2, 4]\n"), 0o644))
	var out bytes.Buffer

	code := run([]string{"-config", path, "scale"}, &out)

	assert.Equal(t, exitOK, code)
	s := out.String()
	assert.Contains(t, s, "SCALING EXPERIMENT")
	assert.Contains(t, s, "Chunks")
	lines := strings.Split(strings.TrimSpace(s[strings.Index(s, "Chunks"):]), "\n")
	assert.Len(t, lines, 4)
}

func TestCompare(t *testing.T) {
	startCluster(t, 2)
	var out bytes.Buffer

	code := run([]string{"compare", "-runs", "2"}, &out)

	assert.Equal(t, exitOK, code)
	s := out.String()
	assert.Contains(t, s, "Run 2/2")
	assert.Contains(t, s, "COMPARISON (2 run(s), 2 chunks: sequential on 1 mapper vs parallel on 2)")
	assert.Contains(t, s, "Avg speedup:")
}

func TestHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		startCluster(t, 2)
		var out bytes.Buffer

		assert.Equal(t, exitOK, run([]string{"health"}, &out))
		assert.Equal(t, 4, strings.Count(out.String(), "healthy"))
		assert.NotContains(t, out.String(), "unhealthy")
	})

	t.Run("dead mapper", func(t *testing.T) {
		startCluster(t, 2)
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		t.Setenv("MR_MAPPER_URLS", os.Getenv("MR_MAPPER_URLS")+","+dead.URL)
		var out bytes.Buffer

		assert.Equal(t, exitFailed, run([]string{"health"}, &out))
		assert.Contains(t, out.String(), "unhealthy")
	})
}

func TestEndpointsDeduplicates(t *testing.T) {
	cfg := config.Default()
	cfg.SplitterURL = "http://a"
	cfg.MapperURLs = []string{"http://a", "http://b", "http://b"}
	cfg.ReducerURL = "http://c"

	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, endpoints(cfg))
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapred.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bucket: from-file\ninput_key: file.txt\n"), 0o644))
	t.Setenv("MR_INPUT_KEY", "env.txt")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Bucket)
	assert.Equal(t, "env.txt", cfg.InputKey)
	assert.Equal(t, config.Default().SplitterURL, cfg.SplitterURL)
}
