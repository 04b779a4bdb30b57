package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const recordVersion = 1

var ErrCorruptRecord = errors.New("corrupt metadata record")

// Record is the on-disk snapshot kept in the sidecar. Only runs of
// non-pending segments are stored; anything not covered is pending.
type Record struct {
	Version   int          `yaml:"version"`
	URL       string       `yaml:"url"`
	FileSize  int64        `yaml:"file_size"`
	ChunkSize int64        `yaml:"chunk_size"`
	UpdatedAt time.Time    `yaml:"updated_at"`
	Segments  []SegmentRun `yaml:"segments"`
}

// SegmentRun covers segments First through Last inclusive.
type SegmentRun struct {
	First int        `yaml:"first"`
	Last  int        `yaml:"last"`
	State ChunkState `yaml:"state"`
}

// Summary is a read-only view of a record used for status reporting.
type Summary struct {
	Segments        int
	DoneSegments    int
	InFlight        int
	BytesDownloaded int64
	FileSize        int64
	Percent         int
}

func segmentCount(fileSize, chunkSize int64) int {
	return int((fileSize + chunkSize - 1) / chunkSize)
}

func segmentLength(i int, fileSize, chunkSize int64) int64 {
	start := int64(i) * chunkSize
	return min(start+chunkSize, fileSize) - start
}

func encodeRuns(states []ChunkState) []SegmentRun {
	var runs []SegmentRun
	for i, s := range states {
		if s == Pending {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].State == s && runs[n-1].Last == i-1 {
			runs[n-1].Last = i
			continue
		}
		runs = append(runs, SegmentRun{First: i, Last: i, State: s})
	}
	return runs
}

func decodeRuns(runs []SegmentRun, count int) ([]ChunkState, error) {
	states := make([]ChunkState, count)
	prev := -1
	for _, run := range runs {
		if run.First > run.Last || run.First <= prev || run.Last >= count {
			return nil, fmt.Errorf("%w: segment run %d-%d out of order or range", ErrCorruptRecord, run.First, run.Last)
		}
		for i := run.First; i <= run.Last; i++ {
			states[i] = run.State
		}
		prev = run.Last
	}
	return states, nil
}

func (r *Record) validate() error {
	if r.Version != recordVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, r.Version)
	}
	if r.FileSize < 0 || r.ChunkSize <= 0 {
		return fmt.Errorf("%w: invalid layout size=%d chunk=%d", ErrCorruptRecord, r.FileSize, r.ChunkSize)
	}
	return nil
}

// States decodes the segment runs into one state per segment.
func (r *Record) States() ([]ChunkState, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	return decodeRuns(r.Segments, segmentCount(r.FileSize, r.ChunkSize))
}

func (r *Record) Summary() (Summary, error) {
	states, err := r.States()
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Segments: len(states), FileSize: r.FileSize}
	for i, s := range states {
		switch s {
		case Done:
			sum.DoneSegments++
			sum.BytesDownloaded += segmentLength(i, r.FileSize, r.ChunkSize)
		case InFlight:
			sum.InFlight++
		}
	}
	sum.Percent = percent(sum.BytesDownloaded, r.FileSize)
	return sum, nil
}

// ReadRecord loads and validates a sidecar snapshot. A missing file is
// reported as fs.ErrNotExist; any other failure wraps ErrCorruptRecord.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeRecord(path string, rec *Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding metadata: %v", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error opening metadata file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("error writing metadata file: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("error syncing metadata file: %v", err)
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func percent(downloaded, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(downloaded * 100 / total)
}
