package forecasting

import (
	"context"
	"fmt"
	"time"

	xhttp "GoldCast/pkg/http"
)

// Observer receives the latency and outcome of every upstream call.
type Observer interface {
	ObserveUpstream(endpoint string, seconds float64, err error)
}

type Option func(*HTTPServiceBase)

// WithObserver reports upstream latency to o.
func WithObserver(o Observer) Option {
	return func(b *HTTPServiceBase) { b.observer = o }
}

// WithClientOptions passes options through to the underlying HTTP client.
func WithClientOptions(opts ...xhttp.ClientOption) Option {
	return func(b *HTTPServiceBase) { b.clientOpts = append(b.clientOpts, opts...) }
}

// HTTPServiceBase is the shared JSON-over-HTTP plumbing of the forecast clients.
type HTTPServiceBase struct {
	baseURL    string
	timeout    time.Duration
	client     *xhttp.Client
	clientOpts []xhttp.ClientOption
	observer   Observer
}

// NewHTTPServiceBase builds a client bound to baseURL. Every call is capped
// at timeout regardless of the caller's deadline.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, opts ...Option) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &HTTPServiceBase{baseURL: baseURL, timeout: timeout}
	for _, opt := range opts {
		opt(b)
	}
	b.client = xhttp.NewClient(append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, b.clientOpts...)...)
	return b
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("forecast http client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := b.client.PostJSON(ctx, b.baseURL+path, payload, dest)
	if b.observer != nil {
		b.observer.ObserveUpstream(path, time.Since(start).Seconds(), err)
	}
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}
