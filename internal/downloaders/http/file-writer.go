package rangehttp

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/metadata"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

// OutputFile is the subset of *os.File the writer needs.
type OutputFile interface {
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

type OpenFunc func(path string) (OutputFile, error)

func OpenOutput(path string) (OutputFile, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
}

// FatalWriteError reports a local storage failure. It ends the run; the
// affected range is released but never retried within the same process.
type FatalWriteError struct {
	Op     string
	Offset int64
	Err    error
}

func (e *FatalWriteError) Error() string {
	return fmt.Sprintf("failed to %s output file at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *FatalWriteError) Unwrap() error {
	return e.Err
}

// FileWriter is the single consumer of the chunk queue and the only writer
// of the output file.
type FileWriter struct {
	meta *metadata.DownloadableMetadata
	open OpenFunc
}

func NewFileWriter(meta *metadata.DownloadableMetadata, open OpenFunc) *FileWriter {
	if open == nil {
		open = OpenOutput
	}
	return &FileWriter{meta: meta, open: open}
}

// Run drains queue until the metadata reports completion, ctx ends, or a
// write fails. Each chunk is synced, committed and persisted before the next
// one is taken.
func (w *FileWriter) Run(ctx context.Context, queue <-chan utils.Chunk) error {
	path := w.meta.Filename()
	f, err := w.open(path)
	if err != nil {
		return &FatalWriteError{Op: "open", Err: err}
	}
	defer f.Close()
	if err := f.Truncate(w.meta.FileSize()); err != nil {
		return &FatalWriteError{Op: "allocate", Err: err}
	}

	reported := 0
	for !w.meta.IsComplete() {
		var chunk utils.Chunk
		select {
		case chunk = <-queue:
		case <-ctx.Done():
			log.Debug().Str("op", "http/file-writer").Msg("Writer interrupted")
			return ctx.Err()
		}
		if err := w.writeChunk(f, chunk); err != nil {
			if relErr := w.meta.Release(chunk.Range()); relErr != nil {
				log.Error().Str("op", "http/file-writer").Err(relErr).Msg("Failed to release range")
			}
			log.Error().Str("op", "http/file-writer").Err(err).Str("file", path).Msg("Failed to write to the file")
			return err
		}
		if current := w.meta.ProgressPercent(); current > reported {
			reported = current
			output.PrintProgress(current)
		}
	}
	if err := f.Sync(); err != nil {
		return &FatalWriteError{Op: "sync", Offset: w.meta.FileSize(), Err: err}
	}
	log.Debug().Str("op", "http/file-writer").Str("file", path).Msg("All chunks written")
	return nil
}

func (w *FileWriter) writeChunk(f OutputFile, chunk utils.Chunk) error {
	if _, err := f.WriteAt(chunk.Data[:chunk.Size], chunk.Offset); err != nil {
		return &FatalWriteError{Op: "write", Offset: chunk.Offset, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &FatalWriteError{Op: "sync", Offset: chunk.Offset, Err: err}
	}
	if err := w.meta.Commit(chunk.Range()); err != nil {
		return &FatalWriteError{Op: "commit", Offset: chunk.Offset, Err: err}
	}
	if err := w.meta.Persist(); err != nil {
		return &FatalWriteError{Op: "persist", Offset: chunk.Offset, Err: err}
	}
	return nil
}
