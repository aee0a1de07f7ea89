package prices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredCache_SetAndGet(t *testing.T) {
	cache := NewTieredCache(30*time.Second, 5*time.Minute, 2*time.Minute)

	cache.Set(TierPrice, "BTCUSDT", 42000.0)

	value, ok := cache.Get(TierPrice, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 42000.0, value)

	// Same key in another tier is a distinct entry.
	_, ok = cache.Get(TierAnalysis, "BTCUSDT")
	assert.False(t, ok)
}

func TestTieredCache_ExpiryIsLazy(t *testing.T) {
	cache := NewTieredCache(30*time.Second, 5*time.Minute, 2*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.now = func() time.Time { return current }

	cache.Set(TierPrice, "ETHUSDT", 1800.0)

	// Just inside the TTL.
	current = base.Add(29 * time.Second)
	_, ok := cache.Get(TierPrice, "ETHUSDT")
	assert.True(t, ok)

	// Past the TTL the entry counts as a miss and is purged.
	current = base.Add(31 * time.Second)
	_, ok = cache.Get(TierPrice, "ETHUSDT")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats[TierPrice].Hits)
	assert.Equal(t, uint64(1), stats[TierPrice].Misses)
	assert.Equal(t, 0, stats[TierPrice].Entries)
}

func TestTieredCache_PerTierTTL(t *testing.T) {
	cache := NewTieredCache(30*time.Second, 5*time.Minute, 2*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.now = func() time.Time { return current }

	cache.Set(TierPrice, "k", 1.0)
	cache.Set(TierAnalysis, "k", 2.0)
	cache.Set(TierMarket, "k", 3.0)

	current = base.Add(time.Minute)
	_, priceOK := cache.Get(TierPrice, "k")
	_, analysisOK := cache.Get(TierAnalysis, "k")
	_, marketOK := cache.Get(TierMarket, "k")

	assert.False(t, priceOK, "price tier should have expired after 30s")
	assert.True(t, analysisOK, "analysis tier should survive a minute")
	assert.True(t, marketOK, "market tier should survive a minute")
}

func TestTieredCache_SetOverwritesAndRefreshesTTL(t *testing.T) {
	cache := NewTieredCache(30*time.Second, 5*time.Minute, 2*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.now = func() time.Time { return current }

	cache.Set(TierPrice, "BTCUSDT", 42000.0)
	current = base.Add(20 * time.Second)
	cache.Set(TierPrice, "BTCUSDT", 43000.0)

	// 40s after the first write, 20s after the second: still fresh.
	current = base.Add(40 * time.Second)
	value, ok := cache.Get(TierPrice, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 43000.0, value)
}

func TestTieredCache_SweepDoesNotCountMisses(t *testing.T) {
	cache := NewTieredCache(30*time.Second, 5*time.Minute, 2*time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.now = func() time.Time { return current }

	cache.Set(TierPrice, "a", 1.0)
	cache.Set(TierPrice, "b", 2.0)

	current = base.Add(time.Minute)
	cache.Sweep()

	stats := cache.Stats()
	assert.Equal(t, 0, stats[TierPrice].Entries)
	assert.Equal(t, uint64(0), stats[TierPrice].Misses)
}

func TestTierStats_HitRate(t *testing.T) {
	assert.Equal(t, 0.0, TierStats{}.HitRate())
	assert.Equal(t, 0.75, TierStats{Hits: 3, Misses: 1}.HitRate())
}
