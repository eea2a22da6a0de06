package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key identifies a cached session snapshot. One contact can hold several
// conversation threads, so both parts participate in the key.
type Key struct {
	ContactID      string
	ConversationID string
}

func (k Key) String() string {
	return fmt.Sprintf("conversation:%s:%s", k.ContactID, k.ConversationID)
}

// Cache holds short-lived ConversationState snapshots. Get returns
// (nil, nil) on a miss; entries expire after the TTL and are invalidated
// explicitly after any CRM mutation.
type Cache interface {
	Get(ctx context.Context, key Key) (*ConversationState, error)
	Set(ctx context.Context, key Key, state ConversationState) error
	Invalidate(ctx context.Context, key Key) error
}

type memoryEntry struct {
	state    ConversationState
	cachedAt time.Time
}

// MemoryCache is the default in-process cache. Expired entries are
// dropped lazily on read and swept opportunistically on write.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[Key]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

const defaultCacheTTL = 5 * time.Minute

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[Key]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*ConversationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if c.now().Sub(entry.cachedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, nil
	}
	state := entry.state
	return &state, nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, state ConversationState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{state: state, cachedAt: now}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len reports the current entry count, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares snapshots across instances. The TTL is enforced by
// Redis itself.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key Key) (*ConversationState, error) {
	raw, err := c.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: cache get: %w", err)
	}
	var state ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		// A corrupt entry behaves like a miss; the next Set replaces it.
		return nil, nil
	}
	return &state, nil
}

func (c *RedisCache) Set(ctx context.Context, key Key, state ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("conversation: cache set: %w", err)
	}
	if err := c.client.Set(ctx, key.String(), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key Key) error {
	if err := c.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("conversation: cache invalidate: %w", err)
	}
	return nil
}
