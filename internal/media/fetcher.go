// Package media downloads the images referenced by a post. Every asset of a
// post is fetched concurrently and streamed straight to disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

const defaultTimeout = 2 * time.Minute

// Config controls media downloads.
type Config struct {
	UserAgent string
	// Timeout bounds each individual download.
	Timeout time.Duration
}

// Fetcher implements archive.MediaFetcher over net/http.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Fetcher. A nil client gets a pooled default transport.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger}
}

// FetchAll downloads every entry of images into dir, whether or not the body
// references it, and waits for all of them. A failed download leaves the
// successful siblings on disk; results are sorted by media id.
func (f *Fetcher) FetchAll(ctx context.Context, dir string, images map[string]archive.MediaAsset) []archive.MediaResult {
	results := make([]archive.MediaResult, 0, len(images))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, asset := range images {
		wg.Add(1)
		go func(id string, asset archive.MediaAsset) {
			defer wg.Done()
			res := f.fetchOne(ctx, dir, id, asset)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(id, asset)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].MediaID < results[j].MediaID })
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, dir, id string, asset archive.MediaAsset) archive.MediaResult {
	target := filepath.Join(dir, archive.MediaFileName(id, asset.Extension))
	res := archive.MediaResult{MediaID: id, URL: asset.OriginalURL, Path: target}

	n, err := f.download(ctx, asset.OriginalURL, target)
	res.Bytes = n
	if err != nil {
		res.Err = err
		if rmErr := os.Remove(target); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			f.logger.Debug("remove partial media file", zap.String("path", target), zap.Error(rmErr))
		}
	}
	return res
}

func (f *Fetcher) download(ctx context.Context, rawURL, target string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build media request: %w: %v", archive.ErrTransport, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w: %v", rawURL, archive.ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body is fully drained or abandoned below

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("get %s: %w: status %d", rawURL, archive.ErrTransport, resp.StatusCode)
	}

	// #nosec G304 -- target is built from the post directory and the media id.
	dest, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w: %v", target, archive.ErrFilesystem, err)
	}
	n, copyErr := io.Copy(dest, resp.Body)
	closeErr := dest.Close()
	if copyErr != nil {
		return n, fmt.Errorf("stream %s: %w: %v", rawURL, archive.ErrTransport, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w: %v", target, archive.ErrFilesystem, closeErr)
	}
	return n, nil
}

// Failed counts the failed results.
func Failed(results []archive.MediaResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// TotalBytes sums the bytes written by successful downloads.
func TotalBytes(results []archive.MediaResult) int64 {
	var total int64
	for _, r := range results {
		if r.Err == nil {
			total += r.Bytes
		}
	}
	return total
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
