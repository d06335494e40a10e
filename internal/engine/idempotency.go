package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odonata-labs/ledgerflow/model"
)

// IdempotencyStore deduplicates Fire calls. The key format is
// "fire:{activityId}:{key}".
type IdempotencyStore interface {
	// Check looks up a previous outcome by key. If the key exists and
	// the input hash matches, it returns the recorded ledger entry. If
	// the key exists but the hash differs, it returns CONFLICT.
	Check(ctx context.Context, key string, inputHash string) (entry *model.HistoryEntry, found bool, err error)

	// Store records a fire outcome keyed by the idempotency key with a
	// TTL.
	Store(ctx context.Context, key string, inputHash string, entry model.HistoryEntry, ttl time.Duration) error
}

// idempotencyEntry is the stored value for an idempotency key.
type idempotencyEntry struct {
	InputHash string             `json:"input_hash"`
	Entry     model.HistoryEntry `json:"entry"`
}

// FormatIdempotencyKey builds the standard idempotency key.
func FormatIdempotencyKey(activityID, key string) string {
	return fmt.Sprintf("fire:%s:%s", activityID, key)
}

// HashFireInput hashes the semantic fields of a fire request so a
// repeated key with different input is detected as a conflict.
func HashFireInput(in FireInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", in.ActivityID, in.TransitionID, in.PrincipalRef, in.Note)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL
// support. Suitable for testing and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memIdemEntry
}

type memIdemEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memIdemEntry),
	}
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryIdempotencyStore) HealthCheck(_ context.Context) error {
	return nil
}

// Check looks up a recorded outcome. Returns CONFLICT if the input
// hash differs.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*model.HistoryEntry, bool, error) {
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

	if entry.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	result := entry.data.Entry
	return &result, true, nil
}

// Store records an outcome with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, entry model.HistoryEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memIdemEntry{
		data: idempotencyEntry{
			InputHash: inputHash,
			Entry:     entry,
		},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For
// testing.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency
// store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Check looks up a recorded outcome in Redis. Returns CONFLICT if the
// input hash differs.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*model.HistoryEntry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}
	return &entry.Entry, true, nil
}

// Store records an outcome in Redis with TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, entry model.HistoryEntry, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{InputHash: inputHash, Entry: entry})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
