package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"campusswap/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenCache struct{ gets, sets int }

func (b *brokenCache) Get(context.Context, string) ([]byte, error) {
	b.gets++
	return nil, errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func (b *brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	b.sets++
	return errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func TestCachedEngineServesFromCache(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCache()
	ce := NewCachedEngine(NewEngine(nil), mem, time.Minute, nil)

	attrs := Attributes{Category: "Books", Condition: catalog.ConditionGood}
	key, err := CacheKey(attrs, MarketSignals{})
	require.NoError(t, err)

	planted, _ := json.Marshal(Result{Points: 4242, Confidence: 0.9})
	require.NoError(t, mem.Set(ctx, key, planted, time.Minute))

	res, err := ce.Valuate(ctx, Attributes{Category: " books ", Condition: catalog.ConditionGood}, MarketSignals{})
	require.NoError(t, err)
	assert.Equal(t, int64(4242), res.Points)
}

func TestCachedEngineSurvivesBrokenCache(t *testing.T) {
	ctx := context.Background()
	broken := &brokenCache{}
	ce := NewCachedEngine(NewEngine(nil), broken, time.Minute, nil)
	attrs := Attributes{Category: "kitchen", Condition: catalog.ConditionNew}

	want, err := NewEngine(nil).Valuate(attrs, MarketSignals{})
	require.NoError(t, err)

	got, err := ce.Valuate(ctx, attrs, MarketSignals{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, broken.sets)

	key, _ := CacheKey(attrs, MarketSignals{})
	_, err = ce.fallback.Get(ctx, key)
	assert.NoError(t, err, "result should land in the fallback cache")
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := NewMemoryCache()
	mem.now = func() time.Time { return now }

	require.NoError(t, mem.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	now = now.Add(2 * time.Minute)
	_, err = mem.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheKeyDistinguishesInputs(t *testing.T) {
	a, err := CacheKey(Attributes{Category: "books", Condition: catalog.ConditionNew}, MarketSignals{})
	require.NoError(t, err)
	b, err := CacheKey(Attributes{Category: "books", Condition: catalog.ConditionPoor}, MarketSignals{})
	require.NoError(t, err)
	c, err := CacheKey(Attributes{Category: "books", Condition: catalog.ConditionNew}, MarketSignals{RecentSales: 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
