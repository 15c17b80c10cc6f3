package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/assetflow/assetflow/internal/metrics"
	"github.com/assetflow/assetflow/internal/templates"
)

// defaultFetchTimeout bounds a single download attempt.
const defaultFetchTimeout = 30 * time.Second

// urlData is the input handed to a configured URL template.
type urlData struct {
	Base string
	Path string
}

// RemoteLoader retrieves assets from a CDN into the local asset tree. Fetched
// files land via a temp file and an atomic rename so a crashed download never
// leaves a half-written asset where the loader would pick it up.
type RemoteLoader struct {
	manager  *Manager
	logger   *slog.Logger
	renderer *templates.Renderer
	client   *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	cdnBase     string
	urlTemplate *templates.Template
	caching     bool
	timeout     time.Duration
	fractions   map[string]float64
	errs        map[string]error
	wg          sync.WaitGroup
}

// NewRemoteLoader creates a remote loader bound to this manager and registers
// it for Cleanup detach.
func (m *Manager) NewRemoteLoader() *RemoteLoader {
	ctx, cancel := context.WithCancel(context.Background())
	r := &RemoteLoader{
		manager:   m,
		logger:    m.logger.With(slog.String("component", "remote")),
		renderer:  templates.NewRenderer(),
		client:    &http.Client{},
		ctx:       ctx,
		cancel:    cancel,
		timeout:   defaultFetchTimeout,
		fractions: make(map[string]float64),
		errs:      make(map[string]error),
	}
	m.registerDriver(r)
	return r
}

// SetCDNBase configures the base URL fetched assets resolve against. A
// trailing slash is stripped so joining stays predictable.
func (r *RemoteLoader) SetCDNBase(base string) {
	r.mu.Lock()
	r.cdnBase = strings.TrimRight(strings.TrimSpace(base), "/")
	r.mu.Unlock()
}

// CDNBase returns the configured base URL.
func (r *RemoteLoader) CDNBase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cdnBase
}

// SetURLTemplate installs a template used by ResolveURL instead of plain
// joining. The template receives .Base and .Path. An empty source clears the
// template.
func (r *RemoteLoader) SetURLTemplate(source string) error {
	tmpl, err := r.renderer.CompileInline("cdn-url", source)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.urlTemplate = tmpl
	r.mu.Unlock()
	return nil
}

// ResolveURL maps a relative asset path to its remote URL, through the
// configured template when one is set.
func (r *RemoteLoader) ResolveURL(path string) (string, error) {
	r.mu.Lock()
	base := r.cdnBase
	tmpl := r.urlTemplate
	r.mu.Unlock()

	if tmpl != nil {
		return tmpl.Render(urlData{Base: base, Path: path})
	}
	if base == "" {
		return "", fmt.Errorf("%w: no CDN base configured", ErrNetwork)
	}
	return base + "/" + strings.TrimLeft(path, "/"), nil
}

// EnableCaching controls whether a resident local copy short-circuits a
// fetch.
func (r *RemoteLoader) EnableCaching(enabled bool) {
	r.mu.Lock()
	r.caching = enabled
	r.mu.Unlock()
}

// CachingEnabled reports whether local-copy short-circuiting is on.
func (r *RemoteLoader) CachingEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caching
}

// SetTimeout bounds each download attempt. Non-positive values restore the
// default.
func (r *RemoteLoader) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	r.mu.Lock()
	r.timeout = timeout
	r.mu.Unlock()
}

// Fetch downloads url into localPath (relative paths resolve against the
// manager's base path). Transient failures, a network error or a 5xx
// response, are retried once; 4xx responses are permanent. With caching
// enabled an existing local file skips the download entirely.
func (r *RemoteLoader) Fetch(ctx context.Context, url, localPath string) error {
	start := time.Now()
	err := r.fetch(ctx, url, localPath)
	switch {
	case err != nil:
		r.manager.metrics.ObserveFetch(metrics.FetchError, time.Since(start))
	case r.lastOutcomeCached(url):
		r.manager.metrics.ObserveFetch(metrics.FetchCached, time.Since(start))
	default:
		r.manager.metrics.ObserveFetch(metrics.FetchFetched, time.Since(start))
	}
	return err
}

// cachedOutcome marks a fetch satisfied by a resident local copy so the
// metrics wrapper can label it without re-statting.
const cachedOutcome = -1.0

func (r *RemoteLoader) lastOutcomeCached(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fractions[url] == cachedOutcome
}

func (r *RemoteLoader) fetch(ctx context.Context, url, localPath string) error {
	dest := r.manager.resolve(localPath)

	r.mu.Lock()
	caching := r.caching
	timeout := r.timeout
	r.fractions[url] = 0
	delete(r.errs, url)
	r.mu.Unlock()

	if caching {
		if info, err := os.Stat(dest); err == nil && !info.IsDir() {
			r.setFetchFraction(url, cachedOutcome)
			return nil
		}
	}

	err := r.download(ctx, url, dest, timeout)
	if err != nil && isTransientFetch(err) {
		r.logger.Warn("fetch attempt failed, retrying",
			slog.String("url", url),
			slog.Any("error", err))
		err = r.download(ctx, url, dest, timeout)
	}
	if err != nil {
		r.mu.Lock()
		r.errs[url] = err
		r.fractions[url] = 1.0
		r.mu.Unlock()
		return err
	}
	r.setFetchFraction(url, 1.0)
	return nil
}

// transientError wraps failures worth one retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransientFetch(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func (r *RemoteLoader) download(ctx context.Context, url, dest string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request for %s: %v", ErrNetwork, url, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("%w: fetch %s: %v", ErrNetwork, url, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("%w: fetch %s: status %d", ErrNetwork, url, resp.StatusCode)}
	default:
		return fmt.Errorf("%w: fetch %s: status %d", ErrNetwork, url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("assets: prepare %s: %w", dest, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return fmt.Errorf("assets: temp file for %s: %w", dest, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := r.copyBody(url, tmp, resp.Body, resp.ContentLength); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("assets: close temp for %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("assets: commit %s: %w", dest, err)
	}
	return nil
}

func (r *RemoteLoader) copyBody(url string, dst io.Writer, src io.Reader, total int64) error {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("assets: write download: %w", werr)
			}
			written += int64(n)
			// Hold below 1.0 until the rename commits the file.
			r.setFetchFraction(url, chunkFraction(written, total))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &transientError{err: fmt.Errorf("%w: read %s: %v", ErrNetwork, url, err)}
		}
	}
}

func (r *RemoteLoader) setFetchFraction(url string, fraction float64) {
	r.mu.Lock()
	r.fractions[url] = fraction
	r.mu.Unlock()
}

// LoadFromURL fetches url into localPath and reports success. Failures are
// logged and retained in Failed; the boolean form suits callers that only
// branch on availability.
func (r *RemoteLoader) LoadFromURL(ctx context.Context, url, localPath string) bool {
	if err := r.Fetch(ctx, url, localPath); err != nil {
		r.logger.Warn("load from url failed",
			slog.String("url", url),
			slog.String("local_path", localPath),
			slog.Any("error", err))
		return false
	}
	return true
}

// FetchAsync runs Fetch on a background goroutine. Failures surface through
// Failed and the loader's log.
func (r *RemoteLoader) FetchAsync(url, localPath string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Fetch(r.ctx, url, localPath); err != nil {
			r.logger.Warn("async fetch failed",
				slog.String("url", url),
				slog.String("local_path", localPath),
				slog.Any("error", err))
		}
	}()
}

// Progress reports the mean fraction across all tracked fetches, 1.0 when
// nothing has been fetched. A failed fetch counts as processed and reads as
// 1.0 so one bad URL never pins the mean below complete; Failed tells the two
// apart.
func (r *RemoteLoader) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fractions) == 0 {
		return 1.0
	}
	var sum float64
	for _, fraction := range r.fractions {
		if fraction == cachedOutcome {
			fraction = 1.0
		}
		sum += fraction
	}
	return sum / float64(len(r.fractions))
}

// Failed returns a copy of the per-URL failures.
func (r *RemoteLoader) Failed() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.errs))
	for url, err := range r.errs {
		out[url] = err
	}
	return out
}

// Wait blocks until all async fetches finish or the timeout elapses,
// reporting whether they finished. The timeout never cancels the fetches.
func (r *RemoteLoader) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Cancel aborts in-flight async fetches.
func (r *RemoteLoader) Cancel() {
	r.cancel()
}

func (r *RemoteLoader) detach() {
	r.Cancel()
	r.manager.unregisterDriver(r)
}
