package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/metadata"
	"github.com/tanq16/rangedl/internal/ratelimit"
	"github.com/tanq16/rangedl/internal/utils"
)

var (
	ErrReadStalled  = errors.New("read timed out")
	ErrRangeIgnored = errors.New("server ignored the Range header")
)

// RangeGetter fetches assigned byte ranges and feeds them, one chunk at a
// time, into the shared queue.
type RangeGetter struct {
	client      utils.HTTPDoer
	url         string
	chunkSize   int64
	readTimeout time.Duration
	bucket      *ratelimit.TokenBucket
	queue       chan<- utils.Chunk
	meta        *metadata.DownloadableMetadata
}

func NewRangeGetter(client *utils.RangeClient, meta *metadata.DownloadableMetadata, bucket *ratelimit.TokenBucket, queue chan<- utils.Chunk) *RangeGetter {
	return &RangeGetter{
		client:      client,
		url:         meta.URL(),
		chunkSize:   meta.ChunkSize(),
		readTimeout: client.ReadTimeout(),
		bucket:      bucket,
		queue:       queue,
		meta:        meta,
	}
}

// Fetch downloads r. On failure the part of r that never reached the queue
// is released so a later round can claim it again.
func (g *RangeGetter) Fetch(ctx context.Context, r utils.Range) error {
	sent, err := g.downloadRange(ctx, r)
	if err == nil {
		log.Debug().Str("op", "http/range-getter").Str("range", r.String()).Msg("Range delivered")
		return nil
	}
	if sent < r.Length() {
		rest := utils.Range{Start: r.Start + sent, End: r.End}
		if relErr := g.meta.Release(rest); relErr != nil {
			log.Error().Str("op", "http/range-getter").Err(relErr).Str("range", rest.String()).Msg("Failed to release range")
		}
	}
	log.Warn().Str("op", "http/range-getter").Err(err).Str("range", r.String()).Int64("delivered", sent).Msg("Range download failed, will retry")
	return err
}

func (g *RangeGetter) downloadRange(ctx context.Context, r utils.Range) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", r.HeaderValue())
	req.Header.Set("Connection", "keep-alive")
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return 0, fmt.Errorf("%w for %s", ErrRangeIgnored, r)
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	contentRange := resp.Header.Get("Content-Range")
	if !strings.HasPrefix(contentRange, fmt.Sprintf("bytes %d-%d/", r.Start, r.End)) {
		return 0, fmt.Errorf("unexpected Content-Range %q for %s", contentRange, r)
	}

	body := newStallReader(resp.Body, g.readTimeout, cancel)
	defer body.stop()

	length := r.Length()
	var sent int64
	for sent < length {
		size := min(g.chunkSize, length-sent)
		if err := g.bucket.Take(ctx, size); err != nil {
			return sent, err
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(body, data); err != nil {
			return sent, body.explain(err)
		}
		chunk := utils.Chunk{Offset: r.Start + sent, Data: data, Size: int(size)}
		select {
		case g.queue <- chunk:
		case <-ctx.Done():
			return sent, ctx.Err()
		}
		sent += size
	}
	return sent, nil
}

// stallReader cancels the request when a single Read blocks longer than
// timeout. Time spent outside Read (rate limiting, queue backpressure) does
// not count.
type stallReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newStallReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *stallReader {
	s := &stallReader{r: r, timeout: timeout}
	s.timer = time.AfterFunc(time.Hour, func() {
		s.stalled.Store(true)
		cancel()
	})
	s.timer.Stop()
	return s
}

func (s *stallReader) Read(p []byte) (int, error) {
	if s.timeout > 0 {
		s.timer.Reset(s.timeout)
		defer s.timer.Stop()
	}
	return s.r.Read(p)
}

func (s *stallReader) stop() {
	s.timer.Stop()
}

func (s *stallReader) explain(err error) error {
	if s.stalled.Load() {
		return fmt.Errorf("%w after %s: %v", ErrReadStalled, s.timeout, err)
	}
	return err
}
