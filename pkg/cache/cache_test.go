package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "pulse:query:abc", Key(KindQuery, "abc"))
	assert.Equal(t, "pulse:query:abc:fp123", Key(KindQuery, "abc", "fp123"))
	assert.Equal(t, "pulse:dashboard:d1:render:dark", Key(KindDashboard, "d1", "render", "dark"))
}

func TestDisabledStore(t *testing.T) {
	store := NewStore(nil, nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, store.Enabled())

	// Every operation is a silent no-op without a backend.
	store.Set(ctx, Key(KindQuery, "q1"), map[string]any{"rows": 1}, time.Minute)

	var dest map[string]any
	assert.False(t, store.Get(ctx, Key(KindQuery, "q1"), &dest))

	store.Delete(ctx, Key(KindQuery, "q1"))
	store.Invalidate(ctx, KindQuery, "q1")
	store.AddDependency(ctx, KindVisualization, "v1", KindDashboard, "d1")

	removed, err := store.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Enabled)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses, "disabled reads do not count as misses")
}

func TestDefaultTTLByKind(t *testing.T) {
	ttls := &config.CacheConfig{
		DashboardTTL:     300,
		VisualizationTTL: 600,
		QueryTTL:         180,
		DatasetTTL:       600,
		ReportTTL:        300,
	}
	store := NewStore(nil, ttls, zap.NewNop())

	assert.Equal(t, 180*time.Second, store.defaultTTL(Key(KindQuery, "q1")))
	assert.Equal(t, 300*time.Second, store.defaultTTL(Key(KindDashboard, "d1")))
	assert.Equal(t, 600*time.Second, store.defaultTTL(Key(KindVisualization, "v1", "suffix")))
}

func TestDefaultTTLWithoutConfig(t *testing.T) {
	store := NewStore(nil, nil, zap.NewNop())
	assert.Equal(t, 5*time.Minute, store.defaultTTL("unnamespaced"))
}
