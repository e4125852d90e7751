package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

func transformRows() []map[string]any {
	return []map[string]any{
		{"region": "emea", "total": float64(10), "qty": float64(2)},
		{"region": "apac", "total": float64(25), "qty": float64(1)},
		{"region": "emea", "total": float64(5), "qty": float64(4)},
	}
}

func TestApplyTransformFilter(t *testing.T) {
	out, err := applyTransform(transformRows(), &models.TransformOp{
		Op:       models.TransformFilter,
		Field:    "region",
		Operator: "eq",
		Value:    "emea",
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = applyTransform(transformRows(), &models.TransformOp{
		Op:       models.TransformFilter,
		Field:    "total",
		Operator: "gte",
		Value:    float64(10),
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestApplyTransformFilterRequiresFieldAndOperator(t *testing.T) {
	_, err := applyTransform(transformRows(), &models.TransformOp{Op: models.TransformFilter, Field: "region"})
	assert.Error(t, err)
}

func TestApplyTransformProject(t *testing.T) {
	out, err := applyTransform(transformRows(), &models.TransformOp{
		Op:     models.TransformProject,
		Fields: []string{"region", "missing"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, map[string]any{"region": "emea", "missing": nil}, out[0])
}

func TestApplyTransformAggregate(t *testing.T) {
	tests := []struct {
		name string
		op   models.TransformOp
		want []map[string]any
	}{
		{
			name: "sum by group",
			op:   models.TransformOp{Op: models.TransformAggregate, GroupBy: "region", Agg: "sum", On: "total"},
			want: []map[string]any{
				{"region": "emea", "sum_total": float64(15)},
				{"region": "apac", "sum_total": float64(25)},
			},
		},
		{
			name: "count needs no on field",
			op:   models.TransformOp{Op: models.TransformAggregate, GroupBy: "region", Agg: "count"},
			want: []map[string]any{
				{"region": "emea", "count": float64(2)},
				{"region": "apac", "count": float64(1)},
			},
		},
		{
			name: "min and max",
			op:   models.TransformOp{Op: models.TransformAggregate, GroupBy: "region", Agg: "min", On: "total"},
			want: []map[string]any{
				{"region": "emea", "min_total": float64(5)},
				{"region": "apac", "min_total": float64(25)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := applyTransform(transformRows(), &tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestApplyTransformAggregateExcludesNonNumeric(t *testing.T) {
	rows := []map[string]any{
		{"g": "x", "v": float64(10)},
		{"g": "x", "v": "oops"},
	}

	out, err := applyTransform(rows, &models.TransformOp{
		Op: models.TransformAggregate, GroupBy: "g", Agg: "avg", On: "v",
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float64(10), out[0]["avg_v"], "strings are excluded, not zero-filled")
}

func TestApplyTransformAggregateErrors(t *testing.T) {
	_, err := applyTransform(nil, &models.TransformOp{Op: models.TransformAggregate, Agg: "sum", On: "v"})
	assert.Error(t, err, "group_by required")

	_, err = applyTransform(nil, &models.TransformOp{Op: models.TransformAggregate, GroupBy: "g", Agg: "sum"})
	assert.Error(t, err, "on required for non-count")

	_, err = applyTransform(transformRows(), &models.TransformOp{Op: models.TransformAggregate, GroupBy: "region", Agg: "median", On: "total"})
	assert.Error(t, err, "unknown aggregation")
}

func TestApplyTransformDerive(t *testing.T) {
	out, err := applyTransform(transformRows(), &models.TransformOp{
		Op:         models.TransformDerive,
		Name:       "unit_price",
		Expression: "total / qty",
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float64(5), out[0]["unit_price"])
	assert.Equal(t, float64(10), out[0]["total"], "original columns preserved")
}

func TestApplyTransformDeriveBadExpression(t *testing.T) {
	_, err := applyTransform(transformRows(), &models.TransformOp{
		Op:         models.TransformDerive,
		Name:       "x",
		Expression: "total +",
	})
	assert.Error(t, err)
}

func TestApplyTransformUnknownOp(t *testing.T) {
	_, err := applyTransform(nil, &models.TransformOp{Op: "pivot"})
	assert.Error(t, err)
}

func TestMatchValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		operator string
		target   any
		want     bool
	}{
		{name: "eq numeric across types", value: 10, operator: "eq", target: float64(10), want: true},
		{name: "eq string", value: "emea", operator: "eq", target: "emea", want: true},
		{name: "neq", value: "emea", operator: "neq", target: "apac", want: true},
		{name: "gt", value: float64(5), operator: "gt", target: float64(3), want: true},
		{name: "lte boundary", value: float64(3), operator: "lte", target: float64(3), want: true},
		{name: "contains is case insensitive", value: "North America", operator: "contains", target: "america", want: true},
		{name: "in list", value: "emea", operator: "in", target: []any{"emea", "apac"}, want: true},
		{name: "not_in without list matches", value: "emea", operator: "not_in", target: "emea", want: true},
		{name: "is_null", value: nil, operator: "is_null", target: nil, want: true},
		{name: "unknown operator matches nothing", value: "x", operator: "regex", target: "x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchValue(tt.value, tt.operator, tt.target))
		})
	}
}

func TestDatasetDeletePushesRealtimeRefreshPerVisualization(t *testing.T) {
	datasetID := uuid.New()
	vizA, vizB := uuid.New(), uuid.New()

	svc := &datasetService{
		repo: &mockDatasetRepo{
			delete: func(ctx context.Context, id uuid.UUID) error { return nil },
		},
		visualizations: &mockVizRepo{
			listByDataset: func(ctx context.Context, id uuid.UUID) ([]*models.Visualization, error) {
				assert.Equal(t, datasetID, id)
				return []*models.Visualization{{ID: vizA}, {ID: vizB}}, nil
			},
		},
		cache:  cache.NewStore(nil, nil, zap.NewNop()),
		logger: zap.NewNop(),
	}
	notifier := &mockNotifier{}
	svc.SetNotifier(notifier)

	require.NoError(t, svc.Delete(context.Background(), datasetID))
	assert.Equal(t, []uuid.UUID{vizA, vizB}, notifier.notified,
		"every visualization over the dataset triggers a push")
}

func TestDatasetDeleteWithoutBroadcasterAttached(t *testing.T) {
	svc := &datasetService{
		repo: &mockDatasetRepo{
			delete: func(ctx context.Context, id uuid.UUID) error { return nil },
		},
		cache:  cache.NewStore(nil, nil, zap.NewNop()),
		logger: zap.NewNop(),
	}

	assert.NotPanics(t, func() {
		_ = svc.Delete(context.Background(), uuid.New())
	})
}

func TestDatasetTTL(t *testing.T) {
	assert.Equal(t, 90*time.Second, datasetTTL(&models.Query{CacheTTL: 90}))
	assert.Equal(t, defaultDatasetTTL, datasetTTL(&models.Query{}))
}

func TestDatasetExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&models.Dataset{}).Expired(now), "snapshots never expire")
	assert.True(t, (&models.Dataset{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&models.Dataset{ExpiresAt: &future}).Expired(now))
}
