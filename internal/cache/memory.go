package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryConfig struct {
	SizePerTier int `json:"size_per_tier"`
	TTLMinutes  int `json:"ttl_minutes"`
}

type memoryCache struct {
	mu    sync.Mutex
	tiers map[string]*expirable.LRU[string, []byte]
	size  int
	ttl   time.Duration
}

func init() {
	Register("memory", newMemoryCache)
}

func newMemoryCache(data interface{}) (ICache, error) {
	cfg := memoryConfig{}
	if data != nil {
		if err := decodeConfig(data, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.SizePerTier <= 0 {
		cfg.SizePerTier = 1024
	}
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	return &memoryCache{
		tiers: make(map[string]*expirable.LRU[string, []byte]),
		size:  cfg.SizePerTier,
		ttl:   ttl,
	}, nil
}

func (c *memoryCache) tier(name string) *expirable.LRU[string, []byte] {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tiers[name]
	if !ok {
		t = expirable.NewLRU[string, []byte](c.size, nil, c.ttl)
		c.tiers[name] = t
	}
	return t
}

func (c *memoryCache) Get(ctx context.Context, tier string, key string) ([]byte, bool, error) {
	payload, ok := c.tier(tier).Get(key)
	if !ok {
		return nil, false, nil
	}
	return payload, true, nil
}

func (c *memoryCache) Put(ctx context.Context, tier string, key string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.tier(tier).Add(key, cp)
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, tier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tiers, tier)
	return nil
}

func (c *memoryCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = make(map[string]*expirable.LRU[string, []byte])
	return nil
}
