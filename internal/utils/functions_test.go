package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputName(t *testing.T) {
	name, err := OutputName("http://example.com/files/archive.tar.gz?x=1")
	require.NoError(t, err)
	assert.Equal(t, "archive.tar.gz", name)

	_, err = OutputName("http://example.com/")
	assert.Error(t, err)

	_, err = OutputName("http://example.com")
	assert.Error(t, err)
}

func TestSidecarPaths(t *testing.T) {
	out, err := OutputPath("downloads", "http://example.com/a/b.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("downloads", "b.bin"), out)
	assert.Equal(t, filepath.Join("downloads", "b.bin.metadata"), MetadataPath(out))
	assert.Equal(t, filepath.Join("downloads", "b.bin.tmp"), BackupPath(out))

	out, err = OutputPath("", "http://example.com/b.bin")
	require.NoError(t, err)
	assert.Equal(t, "b.bin", out)
}

func TestRange(t *testing.T) {
	r := Range{Start: 4096, End: 8191}
	assert.Equal(t, int64(4096), r.Length())
	assert.Equal(t, "bytes=4096-8191", r.HeaderValue())

	c := Chunk{Offset: 8192, Size: 1808}
	assert.Equal(t, Range{Start: 8192, End: 9999}, c.Range())
}

func TestParseHeaderArgs(t *testing.T) {
	h := ParseHeaderArgs([]string{"X-A: 1", "bad", "X-B:two:three"})
	assert.Equal(t, map[string]string{"X-A": "1", "X-B": "two:three"}, h)
}

func TestCleanSidecars(t *testing.T) {
	out := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(out, []byte("data"), 0644))
	require.NoError(t, os.WriteFile(MetadataPath(out), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(BackupPath(out), []byte("y"), 0644))

	removed, err := CleanSidecars(out)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, MetadataPath(out))
	assert.NoFileExists(t, BackupPath(out))
	assert.FileExists(t, out)

	removed, err = CleanSidecars(out)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
