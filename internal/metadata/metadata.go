package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/utils"
)

var (
	ErrMetadataUnrecoverable = errors.New("metadata could not be created")
	ErrRangeOutOfBounds      = errors.New("range outside of file")
	ErrUnalignedRange        = errors.New("range not aligned to segment boundaries")
)

// SizeFunc resolves the total size of the remote file.
type SizeFunc func(ctx context.Context, url string) (int64, error)

type Options struct {
	OutputDir string
	ChunkSize int64
	Probe     SizeFunc
}

// DownloadableMetadata tracks which segments of the target are pending, in
// flight or done, and keeps that state persisted in a sidecar file next to
// the output. All methods are safe for concurrent use.
type DownloadableMetadata struct {
	mu           sync.Mutex
	url          string
	filename     string
	metadataPath string
	backupPath   string
	fileSize     int64
	chunkSize    int64
	states       []ChunkState
	downloaded   int64
	quota        int
}

// New probes the file size once, then restores progress from the sidecar or
// its backup. If neither is usable a fresh all-pending state is created and
// written out before returning.
func New(ctx context.Context, rawURL string, opts Options) (*DownloadableMetadata, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.DefaultChunkSize
	}
	if opts.Probe == nil {
		return nil, errors.New("no size probe configured")
	}
	filename, err := utils.OutputPath(opts.OutputDir, rawURL)
	if err != nil {
		return nil, err
	}
	fileSize, err := opts.Probe(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("error getting file size: %w", err)
	}
	m := &DownloadableMetadata{
		url:          rawURL,
		filename:     filename,
		metadataPath: utils.MetadataPath(filename),
		backupPath:   utils.BackupPath(filename),
		fileSize:     fileSize,
		chunkSize:    opts.ChunkSize,
	}

	if m.resume() {
		m.SetQuota(1)
		return m, nil
	}

	m.states = make([]ChunkState, segmentCount(m.fileSize, m.chunkSize))
	m.downloaded = 0
	m.SetQuota(1)
	maxRetries := 3
	for retry := range maxRetries {
		if retry > 0 {
			time.Sleep(time.Duration(retry) * 100 * time.Millisecond)
		}
		if err = m.Persist(); err == nil {
			log.Debug().Str("op", "metadata/new").Str("file", m.filename).Int64("size", m.fileSize).Int("segments", len(m.states)).Msg("Fresh metadata created")
			return m, nil
		}
		log.Warn().Str("op", "metadata/new").Err(err).Msgf("Writing fresh metadata failed (attempt %d/%d)", retry+1, maxRetries)
	}
	return nil, fmt.Errorf("%w: %v", ErrMetadataUnrecoverable, err)
}

// resume tries the sidecar, then the backup of the previous snapshot.
func (m *DownloadableMetadata) resume() bool {
	for _, path := range []string{m.metadataPath, m.backupPath} {
		rec, err := ReadRecord(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err == nil {
			err = m.restore(rec)
		}
		if err != nil {
			log.Warn().Str("op", "metadata/load").Str("path", path).Err(err).Msg("Ignoring unusable metadata")
			continue
		}
		if path == m.backupPath {
			// drop the broken sidecar so the next persist leaves the backup intact
			if err := os.Remove(m.metadataPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn().Str("op", "metadata/load").Err(err).Msg("Failed to remove broken metadata")
			}
			if err := m.Persist(); err != nil {
				log.Warn().Str("op", "metadata/load").Err(err).Msg("Failed to rewrite metadata from backup")
			}
		}
		log.Info().Str("op", "metadata/load").Str("path", path).Int64("downloaded", m.downloaded).Int64("size", m.fileSize).Msg("Resuming download")
		return true
	}
	return false
}

func (m *DownloadableMetadata) restore(rec *Record) error {
	if rec.FileSize != m.fileSize || rec.ChunkSize != m.chunkSize {
		return fmt.Errorf("layout changed (size %d/%d, chunk %d/%d)", rec.FileSize, m.fileSize, rec.ChunkSize, m.chunkSize)
	}
	if rec.URL != "" && rec.URL != m.url {
		return fmt.Errorf("recorded for a different URL %s", rec.URL)
	}
	states, err := rec.States()
	if err != nil {
		return err
	}
	var downloaded int64
	for i, s := range states {
		switch s {
		case InFlight:
			// work of an unfinished process is lost
			states[i] = Pending
		case Done:
			downloaded += m.segmentLength(i)
		}
	}
	m.states = states
	m.downloaded = downloaded
	return nil
}

func (m *DownloadableMetadata) segmentLength(i int) int64 {
	return segmentLength(i, m.fileSize, m.chunkSize)
}

func (m *DownloadableMetadata) segmentRange(first, last int) utils.Range {
	end := min(int64(last+1)*m.chunkSize, m.fileSize) - 1
	return utils.Range{Start: int64(first) * m.chunkSize, End: end}
}

// segments maps a range onto the indices of the segments it covers.
func (m *DownloadableMetadata) segments(r utils.Range) (int, int, error) {
	if r.Start < 0 || r.End < r.Start || r.End >= m.fileSize {
		return 0, 0, fmt.Errorf("%w: %s (size %d)", ErrRangeOutOfBounds, r, m.fileSize)
	}
	if r.Start%m.chunkSize != 0 || ((r.End+1)%m.chunkSize != 0 && r.End != m.fileSize-1) {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnalignedRange, r)
	}
	return int(r.Start / m.chunkSize), int(r.End / m.chunkSize), nil
}

// SetQuota sizes the next round so the remaining segments are spread evenly
// over the given number of workers.
func (m *DownloadableMetadata) SetQuota(workers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	workers = max(workers, 1)
	remaining := 0
	for _, s := range m.states {
		if s != Done {
			remaining++
		}
	}
	m.quota = max((remaining+workers-1)/workers, 1)
}

// ClaimRange marks the first run of pending segments, at most quota long, as
// in flight and returns its byte range. It reports false when nothing is
// pending.
func (m *DownloadableMetadata) ClaimRange() (utils.Range, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first, claimed := -1, 0
	for i, s := range m.states {
		if s != Pending {
			if first >= 0 {
				break
			}
			continue
		}
		if first < 0 {
			first = i
		}
		m.states[i] = InFlight
		claimed++
		if claimed == m.quota {
			break
		}
	}
	if first < 0 {
		return utils.Range{}, false
	}
	return m.segmentRange(first, first+claimed-1), true
}

// Commit marks every segment covered by r as done. Segments that already are
// done are not counted twice.
func (m *DownloadableMetadata) Commit(r utils.Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	first, last, err := m.segments(r)
	if err != nil {
		return err
	}
	for i := first; i <= last; i++ {
		if m.states[i] != Done {
			m.states[i] = Done
			m.downloaded += m.segmentLength(i)
		}
	}
	return nil
}

// Release returns in-flight segments covered by r to pending.
func (m *DownloadableMetadata) Release(r utils.Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	first, last, err := m.segments(r)
	if err != nil {
		return err
	}
	for i := first; i <= last; i++ {
		if m.states[i] == InFlight {
			m.states[i] = Pending
		}
	}
	return nil
}

// Persist rewrites the sidecar. The previous snapshot is copied to the backup
// first and the backup is removed once the new snapshot is synced.
func (m *DownloadableMetadata) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &Record{
		Version:   recordVersion,
		URL:       m.url,
		FileSize:  m.fileSize,
		ChunkSize: m.chunkSize,
		UpdatedAt: time.Now().UTC(),
		Segments:  encodeRuns(m.states),
	}
	if _, err := os.Stat(m.metadataPath); err == nil {
		if err := copyFile(m.metadataPath, m.backupPath); err != nil {
			return fmt.Errorf("error backing up metadata: %v", err)
		}
	}
	if err := writeRecord(m.metadataPath, rec); err != nil {
		return err
	}
	if err := os.Remove(m.backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing metadata backup: %v", err)
	}
	return nil
}

// Dispose removes the sidecar and any leftover backup. Only called after the
// download fully succeeded.
func (m *DownloadableMetadata) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range []string{m.metadataPath, m.backupPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (m *DownloadableMetadata) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloaded >= m.fileSize
}

func (m *DownloadableMetadata) ProgressPercent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return percent(m.downloaded, m.fileSize)
}

func (m *DownloadableMetadata) BytesDownloaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloaded
}

func (m *DownloadableMetadata) State(i int) ChunkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[i]
}

func (m *DownloadableMetadata) SegmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *DownloadableMetadata) Quota() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota
}

func (m *DownloadableMetadata) URL() string          { return m.url }
func (m *DownloadableMetadata) Filename() string     { return m.filename }
func (m *DownloadableMetadata) MetadataPath() string { return m.metadataPath }
func (m *DownloadableMetadata) BackupPath() string   { return m.backupPath }
func (m *DownloadableMetadata) FileSize() int64      { return m.fileSize }
func (m *DownloadableMetadata) ChunkSize() int64     { return m.chunkSize }
