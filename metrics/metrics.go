// Package metrics exposes engine internals (cache activity, conditional
// fetch activity, durable backend state) as Prometheus metrics. Stats are
// sampled at scrape time, so nothing in the hot path touches a metric.
package metrics

import (
	"github.com/burrowkit/burrow/cache"
	"github.com/burrowkit/burrow/httpcache"
	"github.com/burrowkit/burrow/store"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descCacheHits        = prometheus.NewDesc("burrow_cache_hits_total", "Cache reads served from a live entry.", nil, nil)
	descCacheMisses      = prometheus.NewDesc("burrow_cache_misses_total", "Cache reads that found no live entry.", nil, nil)
	descCacheEvictions   = prometheus.NewDesc("burrow_cache_evictions_total", "Entries evicted to make room at capacity.", nil, nil)
	descCacheExpirations = prometheus.NewDesc("burrow_cache_expirations_total", "Entries removed because their TTL elapsed.", nil, nil)
	descCacheEntries     = prometheus.NewDesc("burrow_cache_entries", "Live in-memory cache entries.", nil, nil)
	descCacheHitRatio    = prometheus.NewDesc("burrow_cache_hit_ratio", "Hits over total reads since process start.", nil, nil)

	descHTTPEntries     = prometheus.NewDesc("burrow_httpcache_entries", "Responses held by the conditional fetch cache.", nil, nil)
	descHTTPRevalidated = prometheus.NewDesc("burrow_httpcache_revalidated_total", "Fetches answered by a 304 revalidation.", nil, nil)
	descHTTPStored      = prometheus.NewDesc("burrow_httpcache_stored_total", "Responses stored or replaced in the fetch cache.", nil, nil)

	descBackendState = prometheus.NewDesc("burrow_store_backend", "Active durable backend (1 for the selected state).", []string{"state"}, nil)
)

// Collector samples engine stats on every scrape. Any nil source is simply
// skipped, so a Collector can cover whatever subset an Engine wired up.
type Collector struct {
	Cache  *cache.Manager
	HTTP   *httpcache.Client
	Router *store.Router
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.Cache != nil {
		s := c.Cache.Stats()
		ch <- prometheus.MustNewConstMetric(descCacheHits, prometheus.CounterValue, float64(s.Hits))
		ch <- prometheus.MustNewConstMetric(descCacheMisses, prometheus.CounterValue, float64(s.Misses))
		ch <- prometheus.MustNewConstMetric(descCacheEvictions, prometheus.CounterValue, float64(s.Evictions))
		ch <- prometheus.MustNewConstMetric(descCacheExpirations, prometheus.CounterValue, float64(s.Expirations))
		ch <- prometheus.MustNewConstMetric(descCacheEntries, prometheus.GaugeValue, float64(s.Size))
		ch <- prometheus.MustNewConstMetric(descCacheHitRatio, prometheus.GaugeValue, s.HitRate())
	}
	if c.HTTP != nil {
		s := c.HTTP.Stats()
		ch <- prometheus.MustNewConstMetric(descHTTPEntries, prometheus.GaugeValue, float64(s.Entries))
		ch <- prometheus.MustNewConstMetric(descHTTPRevalidated, prometheus.CounterValue, float64(s.Revalidated))
		ch <- prometheus.MustNewConstMetric(descHTTPStored, prometheus.CounterValue, float64(s.Stored))
	}
	if c.Router != nil {
		state := c.Router.State()
		for _, s := range []store.State{store.TransactionalAvailable, store.FlatOnly, store.Unavailable} {
			var v float64
			if s == state {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(descBackendState, prometheus.GaugeValue, v, s.String())
		}
	}
}
