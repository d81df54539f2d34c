package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "hadash/internal/log"
)

// ErrFeedStatus is wrapped by Fetch when the feed server answers with a
// status other than 200 or 304.
var ErrFeedStatus = errors.New("ics: unexpected feed status")

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads calendar feeds, revalidating with ETag /
// Last-Modified against a disk cache.
//
// Unlike a plain cache, a failed request never falls back to the cached
// body: any transport error or non-success status is returned to the
// caller as a hard error. The cache only serves 304 responses.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher. An empty cacheDir disables the disk cache
// and conditional requests. A nil client uses http.DefaultClient.
func NewFetcher(client *http.Client, cacheDir string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
	}
}

// Fetch returns the raw feed body for url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("ics: feed URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(url)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, err
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	// Only revalidate when there is a body to fall back on for a 304.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("ics: read feed: %w", err)
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", redactURL(url))
			}
		}

		appLog.Debug("ics fetch success", "url", redactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("ics: received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "url", redactURL(url))
		return cachedBody, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrFeedStatus, resp.StatusCode)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars are enough to keep feeds apart.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides the path and query of a feed URL for logging; private
// calendar URLs embed their secret in the path.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
