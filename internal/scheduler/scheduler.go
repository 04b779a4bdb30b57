package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	rangehttp "github.com/tanq16/rangedl/internal/downloaders/http"
	"github.com/tanq16/rangedl/internal/metadata"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/ratelimit"
	"github.com/tanq16/rangedl/internal/utils"
)

var (
	ErrInterrupted       = errors.New("download interrupted")
	ErrTooManyFailures   = errors.New("too many consecutive failed rounds")
	ErrIncompleteOutcome = errors.New("download ended before all segments were written")
	ErrWriterStopped     = errors.New("file writer stopped")
)

// Options holds collaborators that tests swap out.
type Options struct {
	OpenOutput      rangehttp.OpenFunc
	LimiterInterval time.Duration
	RetryBackoff    time.Duration
}

// Run downloads cfg.URL to completion or until a fatal error. It prints the
// final "Download succeeded" / "Download failed" line and returns nil only on
// full success, in which case the sidecar is removed.
func Run(ctx context.Context, cfg utils.DownloadConfig, opts Options) error {
	logger := log.With().Str("run", uuid.NewString()).Str("url", cfg.URL).Logger()
	err := run(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error().Str("op", "scheduler/run").Err(err).Msg("Download failed")
		output.PrintError(err.Error())
		output.PrintError("Download failed")
		return err
	}
	output.PrintSuccess("Download succeeded")
	return nil
}

func run(ctx context.Context, cfg utils.DownloadConfig, opts Options, logger zerolog.Logger) error {
	cfg.Connections = max(cfg.Connections, 1)
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	client := utils.NewRangeClient(cfg.HTTPClientConfig)
	meta, err := metadata.New(ctx, cfg.URL, metadata.Options{
		OutputDir: cfg.OutputDir,
		ChunkSize: cfg.ChunkSize,
		Probe:     rangehttp.NewSizeProbe(client),
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	output.PrintStart(cfg.Connections, cfg.MaxBytesPerSecond)
	logger.Info().Str("op", "scheduler/run").Str("file", meta.Filename()).Int64("size", meta.FileSize()).Int("connections", cfg.Connections).Msg("Initiating download")

	started := time.Now()
	resumedAt := meta.BytesDownloaded()
	queue := make(chan utils.Chunk, cfg.Connections)
	bucket := ratelimit.NewTokenBucket()
	limiter := ratelimit.NewRateLimiter(bucket, cfg.MaxBytesPerSecond).WithInterval(opts.LimiterInterval)
	writer := rangehttp.NewFileWriter(meta, opts.OpenOutput)
	getter := rangehttp.NewRangeGetter(client, meta, bucket, queue)

	roundsCtx, stopRounds := context.WithCancel(ctx)
	defer stopRounds()
	lifecycle, lctx := errgroup.WithContext(roundsCtx)
	writerDone := make(chan struct{})
	lifecycle.Go(func() error {
		return limiter.Run(lctx)
	})
	lifecycle.Go(func() error {
		defer close(writerDone)
		return writer.Run(lctx, queue)
	})

	roundErr := runRounds(lctx, meta, getter, cfg, opts, writerDone, logger)
	if roundErr != nil {
		// the writer is still waiting for chunks that will never come
		stopRounds()
	}
	bucket.Terminate()
	lifeErr := lifecycle.Wait()

	switch {
	case lifeErr != nil && !errors.Is(lifeErr, context.Canceled):
		return lifeErr
	case roundErr != nil:
		return roundErr
	case lifeErr != nil:
		return fmt.Errorf("%w: %v", ErrInterrupted, lifeErr)
	case !meta.IsComplete():
		return ErrIncompleteOutcome
	}
	if err := meta.Dispose(); err != nil {
		logger.Warn().Str("op", "scheduler/run").Err(err).Msg("Failed to remove metadata")
	}
	logger.Info().Str("op", "scheduler/run").Str("file", meta.Filename()).
		Str("speed", output.FormatSpeed(meta.FileSize()-resumedAt, time.Since(started).Seconds())).
		Msg("Download completed successfully")
	return nil
}

// runRounds claims up to one range per connection, runs the round to
// completion and repeats until every segment is done.
func runRounds(ctx context.Context, meta *metadata.DownloadableMetadata, getter *rangehttp.RangeGetter, cfg utils.DownloadConfig, opts Options, writerDone <-chan struct{}, logger zerolog.Logger) error {
	failedRounds := 0
	for round := 1; !meta.IsComplete(); round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		select {
		case <-writerDone:
			return ErrWriterStopped
		default:
		}
		meta.SetQuota(cfg.Connections)
		var claims []utils.Range
		for range cfg.Connections {
			if r, ok := meta.ClaimRange(); ok {
				claims = append(claims, r)
			}
		}
		if len(claims) == 0 {
			// everything left is queued for the writer
			select {
			case <-writerDone:
			case <-ctx.Done():
			}
			continue
		}

		logger.Debug().Str("op", "scheduler/round").Int("round", round).Int("workers", len(claims)).Int("quota", meta.Quota()).Msg("Starting round")
		var failed atomic.Int32
		var group errgroup.Group
		for _, r := range claims {
			group.Go(func() error {
				err := getter.Fetch(ctx, r)
				if errors.Is(err, rangehttp.ErrRangeIgnored) {
					return err
				}
				if err != nil {
					failed.Add(1)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		if int(failed.Load()) < len(claims) {
			failedRounds = 0
			continue
		}
		failedRounds++
		if cfg.MaxFailedRounds > 0 && failedRounds >= cfg.MaxFailedRounds {
			return fmt.Errorf("%w (%d)", ErrTooManyFailures, failedRounds)
		}
		backoff := min(time.Duration(failedRounds)*opts.RetryBackoff, 5*time.Second)
		logger.Warn().Str("op", "scheduler/round").Int("failedRounds", failedRounds).Dur("backoff", backoff).Msg("All workers failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}
	return nil
}
