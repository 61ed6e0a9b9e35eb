// Package fetch downloads remote resources into the on-disk cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/watershed-rem/internal/domain"
	"github.com/couchcryptid/watershed-rem/internal/observability"
)

// Config controls timeouts and retry behaviour.
type Config struct {
	Timeout        time.Duration // per request, body included
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig matches the service defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Minute,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

var (
	errRateLimited = errors.New("rate limited")
	errServer      = errors.New("server error")
	errStatus      = errors.New("unexpected status")
)

// statusError carries the HTTP status of a failed attempt.
type statusError struct {
	code int
	kind error
}

func (e *statusError) Error() string { return fmt.Sprintf("%v: %d", e.kind, e.code) }
func (e *statusError) Unwrap() error { return e.kind }

// Fetcher is a cache-aware HTTP downloader. A resource whose path already
// exists is served from disk without touching the network unless Override is
// set. Downloads land in a temporary sibling file and are renamed into place,
// so a reader never observes a partial file at the cache path.
type Fetcher struct {
	client  *http.Client
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	group singleflight.Group

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a Fetcher with its own HTTP transport.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		clock:    clockwork.NewRealClock(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// Fetch ensures res.Path holds the body of res.URL and returns the path.
// Calls for the same path are serialized within the process and, through an
// advisory lock file, across processes sharing the cache directory.
func (f *Fetcher) Fetch(ctx context.Context, res domain.CachedResource) (string, error) {
	if res.Path == "" {
		return "", &domain.FetchError{URL: res.URL, Err: errors.New("empty cache path")}
	}
	if err := os.MkdirAll(filepath.Dir(res.Path), 0o755); err != nil {
		return "", &domain.FetchError{URL: res.URL, Path: res.Path, Err: err}
	}

	_, err, _ := f.group.Do(res.Path, func() (any, error) {
		return nil, f.fetchLocked(ctx, res)
	})
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

func (f *Fetcher) fetchLocked(ctx context.Context, res domain.CachedResource) error {
	lock := flock.New(res.Path + ".lock")
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = errors.New("cache lock not acquired")
		}
		return &domain.FetchError{URL: res.URL, Path: res.Path, Err: fmt.Errorf("lock: %w", err)}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			f.logger.Warn("cache unlock failed", "path", res.Path, "error", err)
		}
	}()

	if !res.Override {
		if _, err := os.Stat(res.Path); err == nil {
			f.metrics.FetchRequests.WithLabelValues("hit").Inc()
			f.logger.Debug("cache hit", "path", res.Path)
			return nil
		}
	}

	if res.URL == "" {
		f.metrics.FetchRequests.WithLabelValues("error").Inc()
		return &domain.FetchError{Path: res.Path, Err: errors.New("not cached and no URL to fetch")}
	}

	f.logger.Info("downloading", "url", res.URL, "path", res.Path, "override", res.Override)
	start := f.clock.Now()
	n, err := f.downloadWithRetry(ctx, res)
	if err != nil {
		f.metrics.FetchRequests.WithLabelValues("error").Inc()
		fe := &domain.FetchError{URL: res.URL, Path: res.Path, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			fe.StatusCode = se.code
		}
		return fe
	}
	f.metrics.FetchRequests.WithLabelValues("miss").Inc()
	f.metrics.FetchBytes.Add(float64(n))
	f.metrics.FetchDuration.Observe(f.clock.Since(start).Seconds())
	f.logger.Info("downloaded", "path", res.Path, "bytes", n)
	return nil
}

// downloadWithRetry retries network failures, 429 and 5xx with exponential
// backoff. Other statuses and an open circuit fail immediately.
func (f *Fetcher) downloadWithRetry(ctx context.Context, res domain.CachedResource) (int64, error) {
	cb, err := f.breaker(res.URL)
	if err != nil {
		return 0, err
	}

	backoff := f.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		out, err := cb.Execute(func() (interface{}, error) {
			return f.download(ctx, res)
		})
		if err == nil {
			return out.(int64), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("circuit breaker: %w", err)
		}
		if !retryable(ctx, err) || attempt >= f.cfg.MaxRetries {
			return 0, err
		}

		f.logger.Warn("download attempt failed, retrying",
			"url", res.URL, "attempt", attempt+1, "backoff", backoff, "error", err)
		if !f.sleep(ctx, backoff) {
			return 0, ctx.Err()
		}
		backoff = nextBackoff(backoff, f.cfg.MaxBackoff)
	}
}

// download performs one GET and streams the body to a temp file that is
// renamed onto res.Path on success.
func (f *Fetcher) download(ctx context.Context, res domain.CachedResource) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, &statusError{code: resp.StatusCode, kind: errRateLimited}
	case resp.StatusCode >= 500:
		return 0, &statusError{code: resp.StatusCode, kind: errServer}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, &statusError{code: resp.StatusCode, kind: errStatus}
	}

	return writeAtomic(res.Path, resp.Body)
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.kind != errStatus
	}
	return true
}

// breaker returns the circuit breaker guarding the URL's host.
func (f *Fetcher) breaker(rawURL string) (*gobreaker.CircuitBreaker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[u.Host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        u.Host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 10
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("fetch circuit breaker state change", "host", name, "from", from.String(), "to", to.String())
			},
		})
		f.breakers[u.Host] = cb
	}
	return cb, nil
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := f.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}
