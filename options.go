package burrow

import (
	"net/http"
	"time"

	"github.com/burrowkit/burrow/retry"
	"github.com/burrowkit/burrow/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	dataDir         string
	cacheSize       int
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	singleFlight    bool

	mirrorWriteRPS   float64
	mirrorWriteBurst int

	redisAddr     string
	redisPassword string
	redisDB       int

	httpClient *http.Client
	httpRetry  *retry.Config

	logger     *zap.Logger
	tracing    *tracing.Config
	registerer prometheus.Registerer
}

// Option configures an [Engine].
type Option func(*config)

// WithDataDir sets the directory holding the durable store and the cache
// mirror. Without it the engine runs memory-only: the cache has no mirror
// and progress tracking degrades to its in-memory fallback.
func WithDataDir(dir string) Option {
	return func(c *config) { c.dataDir = dir }
}

// WithCacheSize caps the number of in-memory cache entries.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithDefaultTTL sets the TTL applied to cache writes that do not specify
// one.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithCleanupInterval sets how often expired cache entries are swept
// without waiting for a read to find them. Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithSingleFlight coalesces concurrent cache loads for the same key into
// one loader call. Off by default (concurrent callers may each invoke the
// loader, which is the documented contract).
func WithSingleFlight() Option {
	return func(c *config) { c.singleFlight = true }
}

// WithMirrorWriteLimit throttles best-effort cache mirror writes.
func WithMirrorWriteLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.mirrorWriteRPS = rps
		c.mirrorWriteBurst = burst
	}
}

// WithRedisMirror mirrors cache entries into Redis instead of the local
// flat file. The mirror stays best-effort: a dead Redis degrades to a
// memory-only cache, never to an error.
func WithRedisMirror(addr, password string, db int) Option {
	return func(c *config) {
		c.redisAddr = addr
		c.redisPassword = password
		c.redisDB = db
	}
}

// WithHTTPClient sets the client used by the conditional fetch cache.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithFetchRetry retries idempotent fetches that fail at the transport
// level. Error status codes are never retried.
func WithFetchRetry(cfg retry.Config) Option {
	return func(c *config) { c.httpRetry = &cfg }
}

// WithLogger sets the logger for every component. The default is a no-op
// logger: the engine is silent unless told otherwise.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithOpenTelemetry enables spans around cache loads and conditional
// fetches.
func WithOpenTelemetry(cfg *tracing.Config) Option {
	return func(c *config) { c.tracing = cfg }
}

// WithPrometheusRegisterer additionally registers the engine's collector
// with an external registry. The engine always serves its own metrics via
// [Engine.MetricsHandler] regardless.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}
