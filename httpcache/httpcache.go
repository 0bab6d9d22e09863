// Package httpcache wraps outbound HTTP fetches with ETag-aware conditional
// revalidation. Behavior is strictly additive: a conditional header is
// attached when a prior ETag is known, and a 304 Not Modified is normalized
// into a success response carrying the cached body. Everything else —
// including network failures — passes through unchanged.
package httpcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/burrowkit/burrow/retry"
	"github.com/burrowkit/burrow/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// record is one cached response: body, validator, and the headers needed to
// replay it.
type record struct {
	body     []byte
	etag     string
	header   http.Header
	storedAt time.Time
}

// Client is an ETag-revalidating HTTP client. The side table is keyed by
// method, URL, and request headers, and is bounded only by the set of
// distinct requests observed — an accepted tradeoff for small URL
// cardinality. [Client.PurgeOlderThan] lets callers bound it manually.
type Client struct {
	http  *http.Client
	log   *zap.Logger
	trace *tracing.Config
	retry *retry.Config
	now   func() time.Time

	mu    sync.Mutex
	table map[string]*record

	revalidated atomic.Uint64
	stored      atomic.Uint64
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient sets the underlying client used for actual requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for absorbed revalidation anomalies.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTracing enables OpenTelemetry spans around fetches.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *Client) { c.trace = cfg }
}

// WithRetry retries idempotent requests (GET, HEAD) that fail at the
// transport level. Responses with error status codes are never retried —
// they are not errors to this layer.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) {
		if cfg.Retryable == nil {
			cfg.Retryable = func(err error) bool { return err != nil }
		}
		c.retry = &cfg
	}
}

// NewClient creates a conditional-caching client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:  http.DefaultClient,
		log:   zap.NewNop(),
		now:   time.Now,
		table: make(map[string]*record),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// cacheKey identifies a request by method, URL, and headers so two fetches
// of the same URL with different options occupy different slots.
func cacheKey(req *http.Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URL.String())

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "|%s=%s", name, strings.Join(req.Header[name], ","))
	}
	return b.String()
}

// cacheable reports whether a request participates in conditional caching.
// Requests carrying a body pass through untouched: their bodies are streams
// that cannot be replayed for a retry or keyed deterministically.
func cacheable(req *http.Request) bool {
	return req.Body == nil && (req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == "")
}

// Get fetches url through the conditional cache.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes req. If a prior response for the same request carried an
// ETag, an If-None-Match header is attached; a 304 answer resolves to the
// cached body with a success status. Any other success response replaces
// the cached entry. Error statuses and transport failures pass through
// unchanged and leave the cache untouched.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !cacheable(req) {
		return c.roundTrip(req)
	}

	key := cacheKey(req)

	c.mu.Lock()
	prior := c.table[key]
	c.mu.Unlock()

	if prior != nil && prior.etag != "" {
		req.Header.Set("If-None-Match", prior.etag)
	}

	ctx, end := tracing.Start(req.Context(), c.trace, "httpcache.fetch",
		attribute.String("http.url", req.URL.String()),
		attribute.Bool("httpcache.conditional", prior != nil && prior.etag != ""),
	)
	resp, err := c.roundTrip(req.WithContext(ctx))
	end(err)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && prior != nil:
		// Revalidated: the cached body is still current.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.revalidated.Add(1)
		return replay(req, prior), nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		// An entry without an ETag is kept for its data only; no further
		// conditional revalidation happens until it is overwritten.
		c.mu.Lock()
		c.table[key] = &record{
			body:     body,
			etag:     resp.Header.Get("Etag"),
			header:   resp.Header.Clone(),
			storedAt: c.now(),
		}
		c.mu.Unlock()
		c.stored.Add(1)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil

	case resp.StatusCode == http.StatusNotModified:
		// A 304 with nothing cached should not happen (we sent no
		// validator); pass it through rather than invent a body.
		c.log.Warn("304 without cached entry", zap.String("url", req.URL.String()))
		return resp, nil

	default:
		return resp, nil
	}
}

// roundTrip performs the underlying request, retrying idempotent requests
// on transport errors when configured.
func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	if c.retry == nil || !cacheable(req) {
		return c.http.Do(req)
	}
	return retry.Do(req.Context(), *c.retry, func(context.Context) (*http.Response, error) {
		return c.http.Do(req)
	})
}

// replay synthesizes a success response from a cached record.
func replay(req *http.Request, rec *record) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        rec.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(rec.body)),
		ContentLength: int64(len(rec.body)),
		Request:       req,
	}
}

// PurgeOlderThan removes cached responses stored more than age ago and
// returns the number removed.
func (c *Client) PurgeOlderThan(age time.Duration) int {
	cutoff := c.now().Add(-age)

	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int
	for key, rec := range c.table {
		if rec.storedAt.Before(cutoff) {
			delete(c.table, key)
			removed++
		}
	}
	return removed
}

// Stats is a snapshot of conditional-cache activity.
type Stats struct {
	Entries     int
	Revalidated uint64
	Stored      uint64
}

// Stats returns current side-table size and counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	entries := len(c.table)
	c.mu.Unlock()
	return Stats{
		Entries:     entries,
		Revalidated: c.revalidated.Load(),
		Stored:      c.stored.Load(),
	}
}
