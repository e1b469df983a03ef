// Package dedup suppresses duplicate rule executions for re-delivered
// events. The key format is "dedup:{ruleId}:{eventId}".
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carepulse/carepulse/model"
)

// Store provides deduplication for rule executions. A hit returns the
// cached result of the first execution so repeat deliveries observe the
// same outcome.
type Store interface {
	// Check looks up a previous result by key.
	Check(ctx context.Context, key string) (result *model.ExecutionResult, found bool, err error)

	// Store saves an execution result keyed by the dedup key with a TTL.
	Store(ctx context.Context, key string, result model.ExecutionResult, ttl time.Duration) error
}

// --- MemoryStore ---

// MemoryStore is an in-memory dedup Store with TTL support. Suitable for
// testing and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	result    model.ExecutionResult
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory dedup store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
	}
}

// Check looks up a cached result, evicting it lazily if expired.
func (s *MemoryStore) Check(_ context.Context, key string) (*model.ExecutionResult, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	result := entry.result
	return &result, true, nil
}

// Store saves a result with TTL.
func (s *MemoryStore) Store(_ context.Context, key string, result model.ExecutionResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed dedup Store with TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed dedup store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up a cached result in Redis.
func (s *RedisStore) Check(ctx context.Context, key string) (*model.ExecutionResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var result model.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal dedup entry %q: %w", key, err)
	}

	return &result, true, nil
}

// Store saves a result in Redis with TTL.
func (s *RedisStore) Store(ctx context.Context, key string, result model.ExecutionResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck verifies Redis connectivity.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatKey builds the standard dedup key for a rule/event pair.
func FormatKey(ruleID, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", ruleID, eventID)
}
