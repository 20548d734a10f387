// Package images fetches a listing's gallery images into a scratch
// directory for downstream consumption (the vision describer), and purges
// them afterwards. Partial success is success: one bad URL never fails the
// batch.
package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config configures the image fetcher.
type Config struct {
	// Workers bounds concurrent downloads. Default: 4, enough for a
	// typical 10-20 image gallery without hammering the CDN.
	Workers int
	// PerImageTimeout bounds one download. Default: 15s.
	PerImageTimeout time.Duration
	// MaxBytes caps one image body. Default: 8MB.
	MaxBytes int64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PerImageTimeout <= 0 {
		c.PerImageTimeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 8 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher downloads gallery images.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		client: &http.Client{Timeout: cfg.PerImageTimeout},
		config: cfg,
	}
}

// FetchAll downloads urls into dir (created if missing) with bounded
// parallelism, joining all workers before returning. It returns the paths
// of images written and the URLs that failed; an error is returned only
// when the destination itself is unusable.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, dir string) ([]string, []string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("images: mkdir %s: %w", dir, err)
	}

	sem := make(chan struct{}, f.config.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var saved, failed []string

	for i, u := range urls {
		// The index prefix keeps names unique across galleries that
		// reuse basenames, so workers never write the same path.
		full := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, filename(u)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			path, err := f.fetchOne(ctx, u, full)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.config.Logger.Warn("images: download failed", "url", u, "error", err)
				failed = append(failed, u)
				return
			}
			saved = append(saved, path)
		}()
	}
	wg.Wait()

	return saved, failed, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, imageURL, full string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.PerImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	dst, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", full, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(resp.Body, f.config.MaxBytes)); err != nil {
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return full, nil
}

// imageExtensions are the files Purge removes; anything else in the
// scratch dir is left alone.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Purge removes fetched images from dir. Always invoked after the consumer
// is done, whether it succeeded or not, so the scratch dir never grows
// unbounded. Individual removal failures are logged and skipped.
func (f *Fetcher) Purge(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		f.config.Logger.Warn("images: purge read dir", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			f.config.Logger.Warn("images: purge remove", "file", e.Name(), "error", err)
		}
	}
}

// Paths lists the image files currently in dir, for hand-off to the
// description collaborator.
func Paths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("images: list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// filename derives a local file name from the URL path's last segment,
// falling back to a sanitized host-based name for pathless URLs.
func filename(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return strings.NewReplacer("/", "_", ":", "_", "?", "_").Replace(imageURL)
}
