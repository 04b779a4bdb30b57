package rangehttp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/metadata"
	"github.com/tanq16/rangedl/internal/utils"
)

// NewSizeProbe returns a metadata.SizeFunc that issues a HEAD request and
// reads the total length from Content-Length.
func NewSizeProbe(client utils.HTTPDoer) metadata.SizeFunc {
	return func(ctx context.Context, link string) (int64, error) {
		return getFileSize(ctx, link, client)
	}
}

func getFileSize(ctx context.Context, link string, client utils.HTTPDoer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error checking URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("URL not found (404)")
	} else if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if resp.Header.Get("Accept-Ranges") == "none" {
		return 0, utils.ErrRangeRequestsNotSupported
	}

	size := resp.ContentLength
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		size, err = strconv.ParseInt(contentLength, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", utils.ErrUnknownSize, err)
		}
	}
	if size < 0 {
		return 0, utils.ErrUnknownSize
	}
	log.Debug().Str("op", "http/initial").Str("url", link).Int64("size", size).Msg("File size resolved")
	return size, nil
}
