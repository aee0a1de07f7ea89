package prices

import (
	"sync"
	"time"
)

// Tier identifies one of the three independently-TTL'd cache stores.
type Tier string

const (
	TierPrice    Tier = "price"
	TierAnalysis Tier = "analysis"
	TierMarket   Tier = "market"
)

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

type cacheTier struct {
	ttl     time.Duration
	entries map[string]cacheEntry
	hits    uint64
	misses  uint64
}

// TierStats is a read-only view of one tier's counters.
type TierStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s TierStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// TieredCache holds three expiring key-value stores, one per data category.
// TTL is tier-wide. Entries expire lazily on Get; Sweep evicts proactively.
// All operations are O(1) per key and never perform I/O.
type TieredCache struct {
	mu    sync.Mutex
	tiers map[Tier]*cacheTier
	now   func() time.Time
}

// NewTieredCache creates a cache with one TTL per tier.
func NewTieredCache(priceTTL, analysisTTL, marketTTL time.Duration) *TieredCache {
	return &TieredCache{
		tiers: map[Tier]*cacheTier{
			TierPrice:    {ttl: priceTTL, entries: make(map[string]cacheEntry)},
			TierAnalysis: {ttl: analysisTTL, entries: make(map[string]cacheEntry)},
			TierMarket:   {ttl: marketTTL, entries: make(map[string]cacheEntry)},
		},
		now: time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) on miss. A value past
// its expiry counts as a miss and is purged.
func (c *TieredCache) Get(t Tier, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tier, ok := c.tiers[t]
	if !ok {
		return nil, false
	}
	entry, ok := tier.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		if ok {
			delete(tier.entries, key)
		}
		tier.misses++
		return nil, false
	}
	tier.hits++
	return entry.value, true
}

// Set stores value under key with the tier's TTL.
func (c *TieredCache) Set(t Tier, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tier, ok := c.tiers[t]
	if !ok {
		return
	}
	tier.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(tier.ttl)}
}

// Sweep evicts every expired entry across all tiers. Eviction via Sweep does
// not touch the miss counters.
func (c *TieredCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, tier := range c.tiers {
		for key, entry := range tier.entries {
			if now.After(entry.expiresAt) {
				delete(tier.entries, key)
			}
		}
	}
}

// Stats returns per-tier hit/miss counters and entry counts.
func (c *TieredCache) Stats() map[Tier]TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Tier]TierStats, len(c.tiers))
	for name, tier := range c.tiers {
		out[name] = TierStats{Hits: tier.hits, Misses: tier.misses, Entries: len(tier.entries)}
	}
	return out
}
