package utils

import (
	"fmt"
	"time"
)

// Range is an inclusive byte interval of the target file.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// HeaderValue renders the range for the HTTP Range request header.
func (r Range) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Chunk is one buffer of downloaded bytes tagged with its file offset.
type Chunk struct {
	Offset int64
	Data   []byte
	Size   int
}

func (c Chunk) Range() Range {
	return Range{Start: c.Offset, End: c.Offset + int64(c.Size) - 1}
}

type DownloadConfig struct {
	URL               string
	OutputDir         string
	Connections       int
	MaxBytesPerSecond int64 // 0 means unlimited
	ChunkSize         int64
	MaxFailedRounds   int // 0 retries forever
	HTTPClientConfig  HTTPClientConfig
}

type HTTPClientConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	KATimeout      time.Duration
	UserAgent      string
	Headers        map[string]string
}
