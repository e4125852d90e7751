// Package cache provides the best-effort result cache backed by Redis. Every
// operation degrades to a miss or a no-op when Redis is unavailable; cache
// failures are logged but never surfaced to callers on the read/write path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/config"
)

// Entity kinds used in cache keys.
const (
	KindQuery         = "query"
	KindDataset       = "dataset"
	KindVisualization = "visualization"
	KindDashboard     = "dashboard"
	KindReport        = "report"
)

// keyPrefix namespaces every key this service writes so that Flush and Stats
// never touch foreign data in a shared Redis.
const keyPrefix = "pulse"

// scanBatchSize limits how many keys a single SCAN iteration returns.
const scanBatchSize = 200

// Stats is a snapshot of cache activity since process start plus the current
// key count in Redis.
type Stats struct {
	Enabled bool  `json:"enabled"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Errors  int64 `json:"errors"`
	Keys    int64 `json:"keys"`
}

// Store is the result cache. A Store with a nil client is permanently
// disabled: reads miss, writes are dropped.
type Store struct {
	client *redis.Client
	ttls   *config.CacheConfig
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// NewStore creates the cache store. client may be nil when Redis is not
// configured; the store then operates in disabled mode.
func NewStore(client *redis.Client, ttls *config.CacheConfig, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		ttls:   ttls,
		logger: logger,
	}
}

// Enabled reports whether a Redis backend is attached.
func (s *Store) Enabled() bool {
	return s.client != nil
}

// Key builds a namespaced cache key: pulse:{kind}:{id} plus optional suffix
// segments (parameter fingerprints, render variants).
func Key(kind, id string, suffix ...string) string {
	parts := append([]string{keyPrefix, kind, id}, suffix...)
	return strings.Join(parts, ":")
}

// Get loads a cached value into dest. Returns false on miss, on any Redis
// error, and when the store is disabled.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	if s.client == nil {
		return false
	}

	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.errs.Add(1)
			s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		s.misses.Add(1)
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		// A corrupt entry is worse than a miss; drop it.
		s.errs.Add(1)
		s.logger.Warn("Cache entry corrupt, evicting", zap.String("key", key), zap.Error(err))
		s.client.Del(ctx, key)
		s.misses.Add(1)
		return false
	}

	s.hits.Add(1)
	return true
}

// Set stores a value under key with the given TTL. A zero ttl falls back to
// the configured default for the key's kind.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.client == nil {
		return
	}

	if ttl <= 0 {
		ttl = s.defaultTTL(key)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.errs.Add(1)
		s.logger.Warn("Cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.errs.Add(1)
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// defaultTTL derives the TTL from the kind segment of a pulse:{kind}:... key.
func (s *Store) defaultTTL(key string) time.Duration {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) >= 2 && s.ttls != nil {
		return time.Duration(s.ttls.TTLFor(parts[1])) * time.Second
	}
	return 5 * time.Minute
}

// Delete removes keys. Best effort.
func (s *Store) Delete(ctx context.Context, keys ...string) {
	if s.client == nil || len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.errs.Add(1)
		s.logger.Warn("Cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Invalidate removes the entry for an entity and every suffixed variant
// (pulse:{kind}:{id} and pulse:{kind}:{id}:*), then cascades through the
// dependency index so stale composites are evicted with their source.
func (s *Store) Invalidate(ctx context.Context, kind, id string) {
	if s.client == nil {
		return
	}

	s.deleteByPrefix(ctx, Key(kind, id))

	for _, dep := range s.dependents(ctx, kind, id) {
		s.deleteByPrefix(ctx, Key(dep.kind, dep.id))
		// One more hop covers dataset -> visualization -> dashboard.
		for _, indirect := range s.dependents(ctx, dep.kind, dep.id) {
			s.deleteByPrefix(ctx, Key(indirect.kind, indirect.id))
		}
	}
}

// AddDependency records that invalidating (kind, id) must also invalidate
// (dependentKind, dependentID). The index entry carries the longest configured
// TTL so it outlives the cached values it protects.
func (s *Store) AddDependency(ctx context.Context, kind, id, dependentKind, dependentID string) {
	if s.client == nil {
		return
	}
	indexKey := dependencyKey(kind, id)
	member := dependentKind + ":" + dependentID
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, indexKey, member)
	pipe.Expire(ctx, indexKey, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		s.errs.Add(1)
		s.logger.Warn("Cache dependency index update failed", zap.String("key", indexKey), zap.Error(err))
	}
}

func dependencyKey(kind, id string) string {
	return strings.Join([]string{keyPrefix, "deps", kind, id}, ":")
}

type dependent struct {
	kind string
	id   string
}

func (s *Store) dependents(ctx context.Context, kind, id string) []dependent {
	members, err := s.client.SMembers(ctx, dependencyKey(kind, id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.errs.Add(1)
			s.logger.Warn("Cache dependency lookup failed",
				zap.String("kind", kind), zap.String("id", id), zap.Error(err))
		}
		return nil
	}
	deps := make([]dependent, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, ":", 2)
		if len(parts) == 2 {
			deps = append(deps, dependent{kind: parts[0], id: parts[1]})
		}
	}
	return deps
}

// deleteByPrefix removes the exact key plus every key under prefix + ":".
func (s *Store) deleteByPrefix(ctx context.Context, prefix string) {
	s.Delete(ctx, prefix)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+":*", scanBatchSize).Result()
		if err != nil {
			s.errs.Add(1)
			s.logger.Warn("Cache scan failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		s.Delete(ctx, keys...)
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Stats returns counters and the current namespaced key count. The key count
// requires a SCAN and may be slightly stale under concurrent writes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Enabled: s.client != nil,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Errors:  s.errs.Load(),
	}
	if s.client == nil {
		return stats, nil
	}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+":*", scanBatchSize).Result()
		if err != nil {
			return stats, fmt.Errorf("failed to count cache keys: %w", err)
		}
		stats.Keys += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return stats, nil
		}
	}
}

// Flush removes every key in the pulse namespace. Unlike the read/write path
// this is an administrative operation and reports failures.
func (s *Store) Flush(ctx context.Context) (int64, error) {
	if s.client == nil {
		return 0, nil
	}

	var removed int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+":*", scanBatchSize).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete cache keys: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
