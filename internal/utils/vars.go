package utils

import (
	"errors"
	"time"
)

const (
	DefaultChunkSize      = 4096
	DefaultConnectTimeout = 500 * time.Millisecond
	DefaultReadTimeout    = 2 * time.Second
	DefaultKATimeout      = 90 * time.Second
	ToolUserAgent         = "rangedl/1.0"

	MetadataSuffix = ".metadata"
	BackupSuffix   = ".tmp"
)

var ErrRangeRequestsNotSupported = errors.New("range requests are not supported")
var ErrUnknownSize = errors.New("server didn't provide a usable Content-Length")
