package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ObjectStore persists generated artifacts under caller-chosen keys.
type ObjectStore interface {
	// Upload writes data at key and returns the canonical storage location.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// SignedURL returns a time-limited URL granting read access to key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// maxDownloadBytes caps a single artifact download. Providers serve large
// videos, but anything beyond this is treated as an infrastructure fault.
const maxDownloadBytes = 512 << 20

// Downloader fetches artifact bytes from provider result URLs. Every fetch
// carries a request-level timeout; no call is unbounded.
type Downloader struct {
	client *http.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url and returns the body bytes with the reported content
// type. A non-2xx status is a terminal failure for that URL; it is not
// retried inline.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download: build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("download: unexpected status %d for %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("download: read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
