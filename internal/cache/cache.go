package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/chatpress/internal/pkg/errs"
)

// ICache is a tiered byte cache keyed by content fingerprint. Tiers are
// independent namespaces; invalidating one never touches another.
type ICache interface {
	Get(ctx context.Context, tier string, key string) ([]byte, bool, error)
	Put(ctx context.Context, tier string, key string, payload []byte) error
	Invalidate(ctx context.Context, tier string) error
	InvalidateAll(ctx context.Context) error
}

// Fingerprint derives the cache key for a piece of content. The same
// bytes always map to the same key, so a rerun over unchanged input is
// a guaranteed hit.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

type FactoryFunc func(data interface{}) (ICache, error)

var factories = map[string]FactoryFunc{}

func Register(name string, fn FactoryFunc) {
	factories[name] = fn
}

func New(name string, data interface{}) (ICache, error) {
	fn, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: cache backend not registered: %s", errs.ErrNotFound, name)
	}
	return fn(data)
}

func decodeConfig(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal cache config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal cache config: %w", err)
	}
	return nil
}
