// Package sharedstate is the single typed boundary over the remote KV
// store (C1, spec.md §4.1). It namespaces keys, applies per-category
// TTLs, and never lets a store failure escape as an error the caller
// must handle — every method logs and returns an absent/zero value on
// failure, per spec.md §7.2.
package sharedstate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/intouch-cp/lb-controlplane/config"
	"github.com/intouch-cp/lb-controlplane/logger"
)

const (
	metricsPrefix  = "metrics:"
	weightsKey     = "weights:current"
	weightsTimeKey = "weights:last-update"
	configKey      = "nginx:current-config"
	configTimeKey  = "nginx:last-update"
	instancePrefix = "instance:"
	lockPrefix     = "lock:"
	genericPrefix  = "config:"
)

// Store is the Redis-backed shared-state client. An in-process LRU
// sits in front of Redis for single-metric reads (GetMetric);
// ScanAllMetrics and the weight/config reads go to Redis directly,
// mirroring the teacher's MemoryCache-in-front-of-DiskCache layering
// (go-server/cache/cache.go) but pointed at the hot store instead of
// disk.
type Store struct {
	client *redis.ClusterClient
	ttl    config.TTLConfig
	prefix string
	cache  *lru.Cache[string, []byte]
}

// New constructs a Store and verifies connectivity. A failed ping does
// not prevent construction — spec.md §4.1 requires the process to
// degrade gracefully rather than crash when the store is unreachable —
// but it is logged loudly.
func New(cfg config.RedisConfig, ttl config.TTLConfig) *Store {
	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        cfg.ClusterNodes,
		Password:     cfg.Password,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Errorf("sharedstate: initial ping failed, continuing degraded: %v", err)
	}

	cache, _ := lru.New[string, []byte](256)

	return &Store{client: client, ttl: ttl, prefix: cfg.KeyPrefix, cache: cache}
}

func (s *Store) key(suffix string) string {
	return s.prefix + suffix
}

// PutMetric stores a sample under metrics:<server_id> with the metrics
// TTL.
func (s *Store) PutMetric(ctx context.Context, serverID string, sample interface{}) {
	data, err := json.Marshal(sample)
	if err != nil {
		logger.Errorf("sharedstate: marshal metric for %s: %v", serverID, err)
		return
	}
	key := s.key(metricsPrefix + serverID)
	if err := s.client.Set(ctx, key, data, s.ttl.Metrics).Err(); err != nil {
		logger.Errorf("sharedstate: put metric for %s: %v", serverID, err)
		return
	}
	s.cache.Add(key, data)
}

// GetMetric fetches and unmarshals the metric for a server into out.
// Returns false if absent or on any failure — callers fall back to the
// cold store.
func (s *Store) GetMetric(ctx context.Context, serverID string, out interface{}) bool {
	key := s.key(metricsPrefix + serverID)

	if data, ok := s.cache.Get(key); ok {
		if err := json.Unmarshal(data, out); err == nil {
			return true
		}
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("sharedstate: get metric for %s: %v", serverID, err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Errorf("sharedstate: unmarshal metric for %s: %v", serverID, err)
		return false
	}
	s.cache.Add(key, data)
	return true
}

// ScanAllMetrics prefix-scans metrics:* and unmarshals each value into
// a fresh instance produced by newItem, keyed by server id.
func (s *Store) ScanAllMetrics(ctx context.Context, newItem func() interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	pattern := s.key(metricsPrefix) + "*"

	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Errorf("sharedstate: scan metrics: %v", err)
		return out
	}

	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		item := newItem()
		if err := json.Unmarshal(data, item); err != nil {
			logger.Errorf("sharedstate: unmarshal scanned metric %s: %v", key, err)
			continue
		}
		serverID := strings.TrimPrefix(key, s.key(metricsPrefix))
		out[serverID] = item
	}
	return out
}

// PutWeights stores the current WeightAllocation list and bumps the
// last-update timestamp, both under the weights TTL.
func (s *Store) PutWeights(ctx context.Context, weights interface{}) {
	data, err := json.Marshal(weights)
	if err != nil {
		logger.Errorf("sharedstate: marshal weights: %v", err)
		return
	}
	if err := s.client.Set(ctx, s.key(weightsKey), data, s.ttl.Weights).Err(); err != nil {
		logger.Errorf("sharedstate: put weights: %v", err)
		return
	}
	if err := s.client.Set(ctx, s.key(weightsTimeKey), time.Now().Format(time.RFC3339Nano), s.ttl.Weights).Err(); err != nil {
		logger.Errorf("sharedstate: put weights timestamp: %v", err)
	}
}

// GetWeights unmarshals the current weight list into out. Returns
// false if absent.
func (s *Store) GetWeights(ctx context.Context, out interface{}) bool {
	data, err := s.client.Get(ctx, s.key(weightsKey)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("sharedstate: get weights: %v", err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Errorf("sharedstate: unmarshal weights: %v", err)
		return false
	}
	return true
}

// GetLastWeightTime returns the last weights publish time, if any.
func (s *Store) GetLastWeightTime(ctx context.Context) (time.Time, bool) {
	return s.getTime(ctx, weightsTimeKey)
}

// PutProxyConfig stores the rendered config text and bumps its
// last-update timestamp.
func (s *Store) PutProxyConfig(ctx context.Context, text string) {
	if err := s.client.Set(ctx, s.key(configKey), text, s.ttl.ProxyConfig).Err(); err != nil {
		logger.Errorf("sharedstate: put proxy config: %v", err)
		return
	}
	if err := s.client.Set(ctx, s.key(configTimeKey), time.Now().Format(time.RFC3339Nano), s.ttl.ProxyConfig).Err(); err != nil {
		logger.Errorf("sharedstate: put proxy config timestamp: %v", err)
	}
}

// GetProxyConfig returns the current published config blob.
func (s *Store) GetProxyConfig(ctx context.Context) (string, bool) {
	text, err := s.client.Get(ctx, s.key(configKey)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("sharedstate: get proxy config: %v", err)
		}
		return "", false
	}
	return text, true
}

// GetLastProxyUpdate returns the last proxy-config publish time.
func (s *Store) GetLastProxyUpdate(ctx context.Context) (time.Time, bool) {
	return s.getTime(ctx, configTimeKey)
}

func (s *Store) getTime(ctx context.Context, suffix string) (time.Time, bool) {
	raw, err := s.client.Get(ctx, s.key(suffix)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("sharedstate: get timestamp %s: %v", suffix, err)
		}
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logger.Errorf("sharedstate: parse timestamp %s: %v", suffix, err)
		return time.Time{}, false
	}
	return t, true
}

// Heartbeat writes instance:<id> = {instance_id, last_seen, status}
// with the heartbeat TTL.
func (s *Store) Heartbeat(ctx context.Context, instanceID string) {
	payload := map[string]interface{}{
		"instance_id": instanceID,
		"last_seen":   time.Now().Format(time.RFC3339Nano),
		"status":      "active",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("sharedstate: marshal heartbeat: %v", err)
		return
	}
	key := s.key(instancePrefix + instanceID)
	if err := s.client.Set(ctx, key, data, s.ttl.InstanceHeartbeat).Err(); err != nil {
		logger.Errorf("sharedstate: heartbeat for %s: %v", instanceID, err)
	}
}

// ListActiveInstances returns the instance ids with a live heartbeat
// key. Membership is defined purely by unexpired TTLs (spec.md §3).
func (s *Store) ListActiveInstances(ctx context.Context) []string {
	pattern := s.key(instancePrefix) + "*"
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Errorf("sharedstate: list instances: %v", err)
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, s.key(instancePrefix)))
	}
	return out
}

// PutConfig stores an arbitrary generic config value under config:<k>.
func (s *Store) PutConfig(ctx context.Context, k string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("sharedstate: marshal config %s: %v", k, err)
		return
	}
	if err := s.client.Set(ctx, s.key(genericPrefix+k), data, s.ttl.Generic).Err(); err != nil {
		logger.Errorf("sharedstate: put config %s: %v", k, err)
	}
}

// GetConfig unmarshals a generic config value into out.
func (s *Store) GetConfig(ctx context.Context, k string, out interface{}) bool {
	data, err := s.client.Get(ctx, s.key(genericPrefix+k)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("sharedstate: get config %s: %v", k, err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Errorf("sharedstate: unmarshal config %s: %v", k, err)
		return false
	}
	return true
}

// CleanupExpiredMetrics scans metric keys and drops any with no
// remaining TTL (spec.md §4.1). Redis already expires keys on its own;
// this exists for stores where a stale key lingered past TTL due to a
// race, and to give the scheduler a host-process tick to log on.
func (s *Store) CleanupExpiredMetrics(ctx context.Context) int {
	pattern := s.key(metricsPrefix) + "*"
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Errorf("sharedstate: cleanup scan: %v", err)
		return 0
	}

	cleaned := 0
	for _, key := range keys {
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			continue
		}
		if ttl < 0 {
			if err := s.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}
	if cleaned > 0 {
		logger.Infof("sharedstate: cleaned up %d expired metric keys", cleaned)
	}
	return cleaned
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
