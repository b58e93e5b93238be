package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

var ErrDownloadFailed = errors.New("release: download failed")

// Downloader streams remote files to disk.
type Downloader struct {
	HTTP *http.Client
}

func NewDownloader(timeout time.Duration) Downloader {
	return Downloader{HTTP: &http.Client{Timeout: timeout}}
}

// Fetch writes url to dst with perm. The file appears at dst only once complete.
func (d Downloader) Fetch(ctx context.Context, url string, dst string, perm os.FileMode) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s: status %s", ErrDownloadFailed, url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, err
	}

	log.Info().
		Str("url", url).
		Str("size", humanize.Bytes(uint64(n))).
		Dur("elapsed", time.Since(start)).
		Msg("release download complete")
	return n, nil
}
