// Package fetch retrieves remote image sources into local byte buffers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okaneo/gridview"
	"github.com/okaneo/gridview/internal/errutil"
	"golang.org/x/sync/semaphore"
)

// Fetcher downloads URL sources with bounded concurrency and a per-fetch
// timeout. Failed fetches are not retried; re-fetch happens only on an
// explicit forced re-render.
type Fetcher struct {
	client  *http.Client
	sem     *semaphore.Weighted
	timeout time.Duration
}

// New creates a Fetcher. A nil client falls back to http.DefaultClient;
// getters below 1 is treated as 1.
func New(client *http.Client, getters int, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if getters < 1 {
		getters = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:  client,
		sem:     semaphore.NewWeighted(int64(getters)),
		timeout: timeout,
	}
}

// Fetch retrieves the content at url. Network failures and timeouts wrap
// ErrFetchFailed; a non-200 response additionally carries HTTPStatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}
	defer f.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}
	defer errutil.Close(resp.Body, "Failed to close response body", "url", url)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", gridview.ErrFetchFailed, &gridview.HTTPStatusError{StatusCode: resp.StatusCode})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}

	slog.Debug("Fetched source", "url", url, "size", len(data))
	return data, nil
}

// FetchToCache retrieves url and writes the bytes to a temp file under dir,
// giving the remote entry a local identity for the rest of the session.
// The file is not committed to any index; session teardown sweeps it.
func (f *Fetcher) FetchToCache(ctx context.Context, url, dir string) (string, []byte, error) {
	data, err := f.Fetch(ctx, url)
	if err != nil {
		return "", nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}
	tmp, err := os.CreateTemp(dir, "fetch-*"+filepath.Ext(url))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("%w: %v", gridview.ErrFetchFailed, err)
	}
	return tmp.Name(), data, nil
}
