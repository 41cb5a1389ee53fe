package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xxxsen/chatpress/internal/pkg/errs"
)

type diskConfig struct {
	Dir string `json:"dir"`
}

// diskCache lays entries out as <dir>/<tier>/<key[:2]>/<key> so a tier
// is one subtree and invalidation is a single removal.
type diskCache struct {
	dir string
}

func init() {
	Register("disk", newDiskCache)
}

func newDiskCache(data interface{}) (ICache, error) {
	var cfg diskConfig
	if err := decodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk cache: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("disk cache: create dir: %w", err)
	}
	return &diskCache{dir: cfg.Dir}, nil
}

func (c *diskCache) entryPath(tier string, key string) string {
	prefix := "xx"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(c.dir, tier, prefix, key)
}

func (c *diskCache) Get(ctx context.Context, tier string, key string) ([]byte, bool, error) {
	payload, err := os.ReadFile(c.entryPath(tier, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read entry: %v", errs.ErrCacheBackend, err)
	}
	return payload, true, nil
}

func (c *diskCache) Put(ctx context.Context, tier string, key string, payload []byte) error {
	path := c.entryPath(tier, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create entry dir: %v", errs.ErrCacheBackend, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("%w: write entry: %v", errs.ErrCacheBackend, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: commit entry: %v", errs.ErrCacheBackend, err)
	}
	return nil
}

func (c *diskCache) Invalidate(ctx context.Context, tier string) error {
	if err := os.RemoveAll(filepath.Join(c.dir, tier)); err != nil {
		return fmt.Errorf("%w: remove tier %s: %v", errs.ErrCacheBackend, tier, err)
	}
	return nil
}

func (c *diskCache) InvalidateAll(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("%w: list tiers: %v", errs.ErrCacheBackend, err)
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, ent.Name())); err != nil {
			return fmt.Errorf("%w: remove tier %s: %v", errs.ErrCacheBackend, ent.Name(), err)
		}
	}
	return nil
}
