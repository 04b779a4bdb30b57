package scheduler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rangehttp "github.com/tanq16/rangedl/internal/downloaders/http"
	"github.com/tanq16/rangedl/internal/metadata"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*13 + i/97)
	}
	return data
}

// fileServer serves data with range support. While hang is set, range
// requests starting at byte 0 deliver hangAfter bytes and then stall until
// the client goes away.
type fileServer struct {
	*httptest.Server
	data      []byte
	hang      atomic.Bool
	hangAfter int
	failGets  atomic.Bool
	mu        sync.Mutex
	ranges    []string
}

func newFileServer(t *testing.T, data []byte) *fileServer {
	t.Helper()
	fs := &fileServer{data: data}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fileServer) handle(w http.ResponseWriter, r *http.Request) {
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		fs.mu.Lock()
		fs.ranges = append(fs.ranges, rangeHeader)
		fs.mu.Unlock()
	}
	if r.Method == http.MethodGet && fs.failGets.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodGet && fs.hang.Load() && strings.HasPrefix(rangeHeader, "bytes=0-") {
		end, _ := strconv.Atoi(strings.TrimPrefix(rangeHeader, "bytes=0-"))
		w.Header().Set("Content-Range", "bytes 0-"+strconv.Itoa(end)+"/"+strconv.Itoa(len(fs.data)))
		w.Header().Set("Content-Length", strconv.Itoa(end+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(fs.data[:fs.hangAfter])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		return
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(fs.data))
}

func (fs *fileServer) Ranges() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.ranges...)
}

func (fs *fileServer) ResetRanges() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ranges = nil
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	output.SetOutput(&buf)
	t.Cleanup(func() { output.SetOutput(os.Stderr) })
	return &buf
}

func testConfig(url, dir string, connections int) utils.DownloadConfig {
	return utils.DownloadConfig{
		URL:         url,
		OutputDir:   dir,
		Connections: connections,
		ChunkSize:   4096,
		HTTPClientConfig: utils.HTTPClientConfig{
			ReadTimeout: 10 * time.Second,
		},
	}
}

func fastOptions() Options {
	return Options{LimiterInterval: 10 * time.Millisecond, RetryBackoff: time.Millisecond}
}

func TestDownloadSingleWorker(t *testing.T) {
	out := captureOutput(t)
	data := testPayload(10000)
	fs := newFileServer(t, data)
	dir := t.TempDir()

	err := Run(context.Background(), testConfig(fs.URL+"/files/source.bin", dir, 1), fastOptions())
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(dir, "source.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, written)
	assert.NoFileExists(t, filepath.Join(dir, "source.bin.metadata"))
	assert.NoFileExists(t, filepath.Join(dir, "source.bin.tmp"))
	assert.Equal(t, []string{"bytes=0-9999"}, fs.Ranges())
	assert.Contains(t, out.String(), "Downloaded 100%")
	assert.Contains(t, out.String(), "Download succeeded")
}

func TestDownloadManyWorkers(t *testing.T) {
	captureOutput(t)
	data := testPayload(100_003)
	fs := newFileServer(t, data)
	dir := t.TempDir()
	cfg := testConfig(fs.URL+"/big.bin", dir, 6)
	cfg.ChunkSize = 1000

	require.NoError(t, Run(context.Background(), cfg, fastOptions()))
	written, err := os.ReadFile(filepath.Join(dir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, written)

	// one round, one disjoint range per worker
	ranges := fs.Ranges()
	assert.Len(t, ranges, 6)
	sort.Slice(ranges, func(i, j int) bool {
		return rangeStart(ranges[i]) < rangeStart(ranges[j])
	})
	assert.Equal(t, "bytes=0-16999", ranges[0])
	assert.Equal(t, "bytes=85000-100002", ranges[5])
}

func rangeStart(header string) int {
	start, _ := strconv.Atoi(strings.SplitN(strings.TrimPrefix(header, "bytes="), "-", 2)[0])
	return start
}

func TestDownloadResumesWithoutRefetching(t *testing.T) {
	out := captureOutput(t)
	data := testPayload(10000)
	fs := newFileServer(t, data)
	fs.hangAfter = 4096
	fs.hang.Store(true)
	dir := t.TempDir()
	url := fs.URL + "/resume.bin"
	sidecar := filepath.Join(dir, "resume.bin.metadata")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, testConfig(url, dir, 1), fastOptions()) }()

	require.Eventually(t, func() bool {
		rec, err := metadata.ReadRecord(sidecar)
		if err != nil {
			return false
		}
		sum, err := rec.Summary()
		return err == nil && sum.DoneSegments == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after interrupt")
	}
	assert.FileExists(t, sidecar)
	assert.Contains(t, out.String(), "Download failed")

	fs.hang.Store(false)
	fs.ResetRanges()
	require.NoError(t, Run(context.Background(), testConfig(url, dir, 1), fastOptions()))

	assert.Equal(t, []string{"bytes=4096-9999"}, fs.Ranges())
	written, err := os.ReadFile(filepath.Join(dir, "resume.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, written)
	assert.NoFileExists(t, sidecar)
}

var errInjected = errors.New("injected write failure")

type failingFile struct {
	*os.File
	writes atomic.Int32
	failAt int32
}

func (f *failingFile) WriteAt(p []byte, off int64) (int, error) {
	if f.writes.Add(1) == f.failAt {
		return 0, errInjected
	}
	return f.File.WriteAt(p, off)
}

func TestWriteFailureAbortsRun(t *testing.T) {
	out := captureOutput(t)
	fs := newFileServer(t, testPayload(10000))
	dir := t.TempDir()
	opts := fastOptions()
	opts.OpenOutput = func(path string) (rangehttp.OutputFile, error) {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		return &failingFile{File: f, failAt: 2}, nil
	}

	err := Run(context.Background(), testConfig(fs.URL+"/broken.bin", dir, 1), opts)
	var fatal *rangehttp.FatalWriteError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, errInjected)
	assert.Contains(t, out.String(), "Download failed")
	assert.NotContains(t, out.String(), "Download succeeded")

	rec, err := metadata.ReadRecord(filepath.Join(dir, "broken.bin.metadata"))
	require.NoError(t, err, "sidecar must stay reloadable")
	sum, err := rec.Summary()
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DoneSegments)
	assert.Equal(t, int64(4096), sum.BytesDownloaded)
}

// runWithDeadline fails the test if Run does not return within a few seconds.
func runWithDeadline(t *testing.T, cfg utils.DownloadConfig, opts Options) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- Run(context.Background(), cfg, opts) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func TestPersistentNetworkFailureGivesUp(t *testing.T) {
	out := captureOutput(t)
	fs := newFileServer(t, testPayload(10000))
	fs.failGets.Store(true)
	dir := t.TempDir()
	cfg := testConfig(fs.URL+"/flaky.bin", dir, 2)
	cfg.MaxFailedRounds = 3

	err := runWithDeadline(t, cfg, fastOptions())
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Contains(t, out.String(), "Download failed")
	rec, err := metadata.ReadRecord(filepath.Join(dir, "flaky.bin.metadata"))
	require.NoError(t, err)
	sum, err := rec.Summary()
	require.NoError(t, err)
	assert.Zero(t, sum.InFlight, "failed ranges are released")
	assert.Len(t, fs.Ranges(), 6)
}

func TestSingleFailedRoundBudgetStops(t *testing.T) {
	captureOutput(t)
	fs := newFileServer(t, testPayload(10000))
	fs.failGets.Store(true)
	cfg := testConfig(fs.URL+"/once.bin", t.TempDir(), 1)
	cfg.MaxFailedRounds = 1

	err := runWithDeadline(t, cfg, fastOptions())
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Len(t, fs.Ranges(), 1)
}

func TestServerIgnoringRangeIsFatal(t *testing.T) {
	out := captureOutput(t)
	data := testPayload(10000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	}))
	defer server.Close()
	dir := t.TempDir()

	// no failure budget: only the fatal classification ends the run
	err := runWithDeadline(t, testConfig(server.URL+"/plain.bin", dir, 2), fastOptions())
	assert.ErrorIs(t, err, rangehttp.ErrRangeIgnored)
	assert.Contains(t, out.String(), "Download failed")
	assert.FileExists(t, filepath.Join(dir, "plain.bin.metadata"))
}

func TestRateLimitedDownload(t *testing.T) {
	captureOutput(t)
	const maxBps = 40_000
	data := testPayload(20_000)
	fs := newFileServer(t, data)
	dir := t.TempDir()
	cfg := testConfig(fs.URL+"/slow.bin", dir, 2)
	cfg.ChunkSize = 1000
	cfg.MaxBytesPerSecond = maxBps

	start := time.Now()
	require.NoError(t, Run(context.Background(), cfg, fastOptions()))
	elapsed := time.Since(start)

	// the first tick is available immediately; the rest arrives at maxBps
	perTick := float64(maxBps) * fastOptions().LimiterInterval.Seconds()
	minimum := time.Duration((float64(len(data)) - perTick) / maxBps * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minimum*9/10)

	written, err := os.ReadFile(filepath.Join(dir, "slow.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestProbeFailureIsFatal(t *testing.T) {
	out := captureOutput(t)
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	dir := t.TempDir()

	err := Run(context.Background(), testConfig(server.URL+"/gone.bin", dir, 1), fastOptions())
	assert.ErrorContains(t, err, "404")
	assert.Contains(t, out.String(), "Download failed")
	assert.NoFileExists(t, filepath.Join(dir, "gone.bin.metadata"))
}
