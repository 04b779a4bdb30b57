package utils

import (
	"errors"
	"fmt"
	"io/fs"
	u "net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// OutputName derives the local file name from the last element of the URL path.
func OutputName(rawURL string) (string, error) {
	parsed, err := u.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("cannot derive file name from URL %q", rawURL)
	}
	return name, nil
}

func OutputPath(dir, rawURL string) (string, error) {
	name, err := OutputName(rawURL)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name), nil
}

func MetadataPath(outputPath string) string {
	return outputPath + MetadataSuffix
}

func BackupPath(outputPath string) string {
	return outputPath + BackupSuffix
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// CleanSidecars removes the metadata file and its backup for outputPath and
// returns how many files were deleted. The output itself is left alone.
func CleanSidecars(outputPath string) (int, error) {
	removed := 0
	for _, path := range []string{MetadataPath(outputPath), BackupPath(outputPath)} {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
