package rangehttp

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanq16/rangedl/internal/metadata"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// rangeServer serves data with full Range support and records every Range
// header it sees.
type rangeServer struct {
	*httptest.Server
	mu     sync.Mutex
	ranges []string
}

func newRangeServer(t *testing.T, data []byte) *rangeServer {
	t.Helper()
	rs := &rangeServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Range"); h != "" {
			rs.mu.Lock()
			rs.ranges = append(rs.ranges, h)
			rs.mu.Unlock()
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) Ranges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

func newTestMetadata(t *testing.T, url string, size, chunk int64) *metadata.DownloadableMetadata {
	t.Helper()
	probe := func(ctx context.Context, url string) (int64, error) { return size, nil }
	m, err := metadata.New(context.Background(), url, metadata.Options{OutputDir: t.TempDir(), ChunkSize: chunk, Probe: probe})
	require.NoError(t, err)
	return m
}
