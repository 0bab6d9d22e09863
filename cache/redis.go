package cache

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/burrowkit/burrow/breaker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisKeyPrefix namespaces mirrored entries inside a shared Redis database.
const redisKeyPrefix = "burrow:cache:"

// RedisMirror is a Redis-backed [Mirror] for deployments that want the
// persisted shadow to live off-host. Like every mirror it fails soft: if
// Redis is unavailable, reads become misses and writes are discarded. A
// circuit breaker stops probing a dead Redis on every cache write and lets
// it back in after a cool-down.
type RedisMirror struct {
	rdb *redis.Client
	br  *breaker.Breaker
	log *zap.Logger
}

// NewRedisMirror creates a Redis-backed mirror. A nil logger is replaced
// with a no-op logger.
func NewRedisMirror(addr, password string, db int, log *zap.Logger) *RedisMirror {
	if log == nil {
		log = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisMirror{
		rdb: rdb,
		br: breaker.New(breaker.Config{
			FailureThreshold:   5,
			OpenTimeout:        30 * time.Second,
			HalfOpenMaxSuccess: 2,
		}),
		log: log,
	}
}

// Load retrieves the envelope stored under key. Misses, connection errors,
// an open breaker, and undecodable records all report a plain miss.
func (m *RedisMirror) Load(ctx context.Context, key string) (Envelope, bool) {
	var env Envelope
	var found bool
	err := m.br.Do(func() error {
		raw, err := m.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			m.log.Warn("corrupt mirrored cache entry dropped", zap.String("key", key))
			m.rdb.Del(ctx, redisKeyPrefix+key)
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		m.log.Debug("redis mirror read failed", zap.String("key", key), zap.Error(err))
		return Envelope{}, false
	}
	return env, found
}

// Store writes the envelope with a Redis expiry matching the entry's
// remaining lifetime, so Redis reclaims dead entries on its own.
func (m *RedisMirror) Store(ctx context.Context, env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		m.log.Debug("cache entry not mirrorable", zap.String("key", env.Key), zap.Error(err))
		return
	}
	var expiry time.Duration
	if env.TTLMillis > 0 {
		expiry = time.Until(env.CreatedAt.Add(time.Duration(env.TTLMillis) * time.Millisecond))
		if expiry <= 0 {
			return
		}
	}
	err = m.br.Do(func() error {
		return m.rdb.Set(ctx, redisKeyPrefix+env.Key, raw, expiry).Err()
	})
	if err != nil {
		m.log.Debug("redis mirror write failed", zap.String("key", env.Key), zap.Error(err))
	}
}

// Delete removes the record for key, if any.
func (m *RedisMirror) Delete(ctx context.Context, key string) {
	err := m.br.Do(func() error {
		return m.rdb.Del(ctx, redisKeyPrefix+key).Err()
	})
	if err != nil {
		m.log.Debug("redis mirror delete failed", zap.String("key", key), zap.Error(err))
	}
}

// DeleteMatching scans the burrow prefix and removes every key matching re,
// returning the removed keys (without the prefix).
func (m *RedisMirror) DeleteMatching(ctx context.Context, re *regexp.Regexp) []string {
	var matched []string
	err := m.br.Do(func() error {
		iter := m.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			key := strings.TrimPrefix(iter.Val(), redisKeyPrefix)
			if !re.MatchString(key) {
				continue
			}
			if err := m.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
			matched = append(matched, key)
		}
		return iter.Err()
	})
	if err != nil {
		m.log.Debug("redis mirror pattern delete failed", zap.Error(err))
	}
	return matched
}

// Clear removes every mirrored record under the burrow prefix, leaving
// unrelated keys in the database alone.
func (m *RedisMirror) Clear(ctx context.Context) {
	err := m.br.Do(func() error {
		iter := m.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := m.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		return iter.Err()
	})
	if err != nil {
		m.log.Debug("redis mirror clear failed", zap.Error(err))
	}
}

// Ping checks the Redis connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
