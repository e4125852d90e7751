package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/testhelpers"
)

func integrationStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(testhelpers.GetTestRedis(t).Client, nil, zap.NewNop())
	_, err := store.Flush(context.Background())
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()

	key := Key(KindQuery, "q-roundtrip")
	store.Set(ctx, key, map[string]any{"rows": []any{1.0, 2.0}}, time.Minute)

	var got map[string]any
	require.True(t, store.Get(ctx, key, &got))
	assert.Equal(t, []any{1.0, 2.0}, got["rows"])

	var missing map[string]any
	assert.False(t, store.Get(ctx, Key(KindQuery, "q-missing"), &missing))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestStoreInvalidateRemovesVariants(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()

	store.Set(ctx, Key(KindQuery, "q1"), "base", time.Minute)
	store.Set(ctx, Key(KindQuery, "q1", "abc123"), "variant", time.Minute)
	store.Set(ctx, Key(KindQuery, "q2"), "other", time.Minute)

	store.Invalidate(ctx, KindQuery, "q1")

	var got string
	assert.False(t, store.Get(ctx, Key(KindQuery, "q1"), &got))
	assert.False(t, store.Get(ctx, Key(KindQuery, "q1", "abc123"), &got))
	assert.True(t, store.Get(ctx, Key(KindQuery, "q2"), &got), "unrelated entries survive")
}

func TestStoreInvalidateCascadesThroughDependents(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()

	store.Set(ctx, Key(KindDataset, "d1"), "rows", time.Minute)
	store.Set(ctx, Key(KindVisualization, "v1"), "payload", time.Minute)
	store.Set(ctx, Key(KindDashboard, "dash1"), "composed", time.Minute)

	store.AddDependency(ctx, KindDataset, "d1", KindVisualization, "v1")
	store.AddDependency(ctx, KindVisualization, "v1", KindDashboard, "dash1")

	store.Invalidate(ctx, KindDataset, "d1")

	var got string
	assert.False(t, store.Get(ctx, Key(KindDataset, "d1"), &got))
	assert.False(t, store.Get(ctx, Key(KindVisualization, "v1"), &got))
	assert.False(t, store.Get(ctx, Key(KindDashboard, "dash1"), &got),
		"invalidation follows dataset -> visualization -> dashboard")
}

func TestStoreFlush(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()

	store.Set(ctx, Key(KindReport, "r1"), "a", time.Minute)
	store.Set(ctx, Key(KindReport, "r2"), "b", time.Minute)

	removed, err := store.Flush(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(2))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Keys)
}
