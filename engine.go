// Package burrow assembles the cache & durable store engine: a TTL/LRU
// in-memory cache with a persisted mirror, an ETag-revalidating HTTP fetch
// cache, and a progress store over a durable backend with automatic
// fallback. One Engine per process replaces hidden global state; every
// consumer receives it explicitly.
package burrow

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/burrowkit/burrow/cache"
	"github.com/burrowkit/burrow/httpcache"
	"github.com/burrowkit/burrow/metrics"
	"github.com/burrowkit/burrow/progress"
	"github.com/burrowkit/burrow/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// mirrorFileName is the flat file holding the cache's persisted mirror,
// kept separate from the durable store files.
const mirrorFileName = "cache.json"

// Engine owns the engine's moving parts and their lifecycles. Construct it
// once with [New], hand its accessors to consumers, and [Engine.Close] it
// on shutdown.
type Engine struct {
	cache    *cache.Manager
	http     *httpcache.Client
	progress *progress.Store
	router   *store.Router

	registry *prometheus.Registry
	log      *zap.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
	closers   []func() error
}

// New creates an Engine by applying the supplied functional [Option]
// values. Storage degradation never fails construction: a broken data
// directory yields a memory-only engine, logged but functional.
//
// Example:
//
//	eng, err := burrow.New(append(burrow.DefaultOptions(),
//		burrow.WithDataDir("/var/lib/myapp"),
//		burrow.WithLogger(log),
//	)...)
func New(opts ...Option) (*Engine, error) {
	cfg := config{
		cacheSize:  cache.DefaultMaxSize,
		defaultTTL: cache.DefaultTTL,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	log := cfg.logger

	e := &Engine{log: log}

	e.router = store.OpenRouter(cfg.dataDir, log)
	e.closers = append(e.closers, e.router.Close)

	mirror := e.openMirror(cfg)

	cacheOpts := []cache.Option{
		cache.WithMaxSize(cfg.cacheSize),
		cache.WithDefaultTTL(cfg.defaultTTL),
		cache.WithMirror(mirror),
		cache.WithLogger(log),
		cache.WithTracing(cfg.tracing),
	}
	if cfg.singleFlight {
		cacheOpts = append(cacheOpts, cache.WithSingleFlight())
	}
	if cfg.mirrorWriteRPS > 0 {
		cacheOpts = append(cacheOpts, cache.WithWriteLimit(cfg.mirrorWriteRPS, cfg.mirrorWriteBurst))
	}
	e.cache = cache.New(cacheOpts...)

	httpOpts := []httpcache.Option{
		httpcache.WithLogger(log),
		httpcache.WithTracing(cfg.tracing),
	}
	if cfg.httpClient != nil {
		httpOpts = append(httpOpts, httpcache.WithHTTPClient(cfg.httpClient))
	}
	if cfg.httpRetry != nil {
		httpOpts = append(httpOpts, httpcache.WithRetry(*cfg.httpRetry))
	}
	e.http = httpcache.NewClient(httpOpts...)

	e.progress = progress.NewStore(e.router, log)

	collector := &metrics.Collector{Cache: e.cache, HTTP: e.http, Router: e.router}
	e.registry = prometheus.NewRegistry()
	if err := e.registry.Register(collector); err != nil {
		return nil, err
	}
	if cfg.registerer != nil {
		if err := cfg.registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	if cfg.cleanupInterval > 0 {
		e.stopSweep = make(chan struct{})
		e.sweepDone = make(chan struct{})
		go e.sweep(cfg.cleanupInterval)
	}

	return e, nil
}

// openMirror picks the cache mirror: Redis when configured, otherwise a
// flat file under the data dir, otherwise none. Mirror setup failures are
// absorbed — the cache works memory-only.
func (e *Engine) openMirror(cfg config) cache.Mirror {
	if cfg.redisAddr != "" {
		rm := cache.NewRedisMirror(cfg.redisAddr, cfg.redisPassword, cfg.redisDB, e.log)
		e.closers = append(e.closers, rm.Close)
		return rm
	}
	if cfg.dataDir == "" {
		return cache.NopMirror{}
	}
	flat, err := store.OpenFlat(filepath.Join(cfg.dataDir, mirrorFileName), cache.MirrorCollection)
	if err != nil {
		e.log.Warn("cache mirror unavailable, cache is memory-only", zap.Error(err))
		return cache.NopMirror{}
	}
	e.closers = append(e.closers, flat.Close)
	return cache.NewStoreMirror(flat, e.log)
}

// sweep runs the periodic expired-entry cleanup until Close.
func (e *Engine) sweep(interval time.Duration) {
	defer close(e.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := e.cache.Cleanup(context.Background()); n > 0 {
				e.log.Debug("swept expired cache entries", zap.Int("count", n))
			}
		case <-e.stopSweep:
			return
		}
	}
}

// Cache returns the in-memory cache tier.
func (e *Engine) Cache() *cache.Manager { return e.cache }

// HTTP returns the conditional fetch cache.
func (e *Engine) HTTP() *httpcache.Client { return e.http }

// Progress returns the durable progress store.
func (e *Engine) Progress() *progress.Store { return e.progress }

// Router returns the durable store router, mainly for state inspection.
func (e *Engine) Router() *store.Router { return e.router }

// MetricsHandler returns an http.Handler serving the engine's Prometheus
// metrics.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Close stops the sweeper and closes every owned backend. It is safe to
// call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.stopSweep != nil {
			close(e.stopSweep)
			<-e.sweepDone
		}
		for _, closeFn := range e.closers {
			if cerr := closeFn(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
