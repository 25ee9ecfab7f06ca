package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultFetchTimeout bounds a single dataset request.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	// DefaultMaxDatasetBytes is the largest dataset accepted, 50 MB.
	DefaultMaxDatasetBytes = 50 << 20

	defaultBaseBackoff = 500 * time.Millisecond
	maxRetryAfter      = 30 * time.Second
)

// ErrDatasetTooLarge is returned when a dataset exceeds the size limit.
var ErrDatasetTooLarge = errors.New("dataset too large")

// FetchError describes one failed dataset request. Retryable is set for
// failures a later attempt may not see: network errors, 5xx, 408 and 429.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Retryable  bool
	RetryAfter time.Duration // server requested delay, 0 when absent
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchOption configures FetchDataset.
type FetchOption func(*datasetFetcher)

// WithTimeout sets the timeout of each request.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *datasetFetcher) { f.timeout = d }
}

// WithMaxRetries sets the number of attempts, at least one.
func WithMaxRetries(n int) FetchOption {
	return func(f *datasetFetcher) { f.attempts = n }
}

// WithBaseBackoff sets the delay before the second attempt. It doubles for
// every further attempt unless the server sends Retry-After.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(f *datasetFetcher) { f.baseBackoff = d }
}

// WithMaxBytes sets the dataset size limit.
func WithMaxBytes(n int64) FetchOption {
	return func(f *datasetFetcher) { f.maxBytes = n }
}

// WithHTTPClient overrides the HTTP client. WithTimeout is ignored then.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *datasetFetcher) { f.client = client }
}

type datasetFetcher struct {
	url         string
	client      *http.Client
	timeout     time.Duration
	attempts    int
	baseBackoff time.Duration
	maxBytes    int64
}

// FetchDataset downloads, decodes and validates a JSON dataset. Transient
// failures are retried with exponential backoff; a malformed or invalid
// dataset and 4xx responses fail at once.
func FetchDataset(url string, opts ...FetchOption) (*Dataset, error) {
	return FetchDatasetWithContext(context.Background(), url, opts...)
}

// FetchDatasetWithContext is FetchDataset with cancellation. Cancelling ctx
// aborts the current request and any backoff wait.
func FetchDatasetWithContext(ctx context.Context, url string, opts ...FetchOption) (*Dataset, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch dataset: URL is empty")
	}
	f := &datasetFetcher{
		url:         url,
		timeout:     DefaultFetchTimeout,
		attempts:    DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    DefaultMaxDatasetBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.attempts < 1 {
		f.attempts = 1
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}
	return f.fetch(ctx)
}

func (f *datasetFetcher) fetch(ctx context.Context) (*Dataset, error) {
	for attempt := 1; ; attempt++ {
		ds, err := f.get(ctx)
		if err == nil {
			if attempt > 1 {
				Logf("[PIPELINE] Fetched %s dataset (%d correspondences) on attempt %d", ds.Model, ds.Len(), attempt)
			}
			return ds, nil
		}

		var fe *FetchError
		if !errors.As(err, &fe) || !fe.Retryable {
			return nil, fmt.Errorf("fetch dataset: %w", err)
		}
		if attempt == f.attempts {
			return nil, fmt.Errorf("fetch dataset: all %d attempts failed: %w", f.attempts, err)
		}

		wait := f.backoff(attempt, fe.RetryAfter)
		Logf("[PIPELINE] Fetch attempt %d/%d failed: %v (retrying in %s)", attempt, f.attempts, err, wait)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch dataset: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// backoff is the wait after the given failed attempt. A server Retry-After
// wins over the exponential schedule, capped at maxRetryAfter.
func (f *datasetFetcher) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, maxRetryAfter)
	}
	return f.baseBackoff << (attempt - 1)
}

// get performs one request and decodes the body.
func (f *datasetFetcher) get(ctx context.Context) (*Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		// A cancelled context is final, anything else on the wire may pass.
		return nil, &FetchError{URL: f.url, Retryable: ctx.Err() == nil, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{
			URL:        f.url,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrDatasetTooLarge, resp.ContentLength, f.maxBytes)
	}

	// One byte past the limit tells an oversized body from one that fits.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: f.url, Retryable: ctx.Err() == nil, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDatasetTooLarge, f.maxBytes)
	}
	return DecodeDataset(bytes.NewReader(body))
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return code != http.StatusNotImplemented
	}
	return false
}

// parseRetryAfter reads the delay-seconds form of Retry-After. HTTP dates
// are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
