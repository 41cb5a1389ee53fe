package cache

import (
	"context"
	"sync"
)

type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Puts   int64 `json:"puts"`
}

// Measured wraps a cache and counts hits and misses per tier.
type Measured struct {
	next ICache

	mu    sync.Mutex
	stats map[string]*Stats
}

func NewMeasured(next ICache) *Measured {
	return &Measured{next: next, stats: make(map[string]*Stats)}
}

func (m *Measured) tierStats(tier string) *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[tier]
	if !ok {
		st = &Stats{}
		m.stats[tier] = st
	}
	return st
}

func (m *Measured) Get(ctx context.Context, tier string, key string) ([]byte, bool, error) {
	payload, ok, err := m.next.Get(ctx, tier, key)
	st := m.tierStats(tier)
	m.mu.Lock()
	if ok && err == nil {
		st.Hits++
	} else {
		st.Misses++
	}
	m.mu.Unlock()
	return payload, ok, err
}

func (m *Measured) Put(ctx context.Context, tier string, key string, payload []byte) error {
	err := m.next.Put(ctx, tier, key, payload)
	if err == nil {
		st := m.tierStats(tier)
		m.mu.Lock()
		st.Puts++
		m.mu.Unlock()
	}
	return err
}

func (m *Measured) Invalidate(ctx context.Context, tier string) error {
	return m.next.Invalidate(ctx, tier)
}

func (m *Measured) InvalidateAll(ctx context.Context) error {
	return m.next.InvalidateAll(ctx)
}

// Snapshot copies the current per-tier counters.
func (m *Measured) Snapshot() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.stats))
	for tier, st := range m.stats {
		out[tier] = *st
	}
	return out
}
