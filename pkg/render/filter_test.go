package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

func filterRows() []map[string]any {
	return []map[string]any{
		{"region": "EMEA", "total": float64(10), "note": "first order"},
		{"region": "apac", "total": float64(25), "note": nil},
		{"region": "emea", "total": float64(5), "note": "repeat order"},
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name    string
		filters []models.VizFilter
		want    int
	}{
		{
			name:    "no filters passes everything",
			filters: nil,
			want:    3,
		},
		{
			name: "equals is case insensitive by default",
			filters: []models.VizFilter{
				{Field: "region", Operator: models.OpEquals, Value: "emea"},
			},
			want: 2,
		},
		{
			name: "equals case sensitive",
			filters: []models.VizFilter{
				{Field: "region", Operator: models.OpEquals, Value: "emea", CaseSensitive: true},
			},
			want: 1,
		},
		{
			name: "not equals",
			filters: []models.VizFilter{
				{Field: "region", Operator: models.OpNotEquals, Value: "apac"},
			},
			want: 2,
		},
		{
			name: "contains",
			filters: []models.VizFilter{
				{Field: "note", Operator: models.OpContains, Value: "ORDER"},
			},
			want: 2,
		},
		{
			name: "greater than",
			filters: []models.VizFilter{
				{Field: "total", Operator: models.OpGreaterThan, Value: float64(8)},
			},
			want: 2,
		},
		{
			name: "less than with string bound",
			filters: []models.VizFilter{
				{Field: "total", Operator: models.OpLessThan, Value: "8"},
			},
			want: 1,
		},
		{
			name: "between inclusive",
			filters: []models.VizFilter{
				{Field: "total", Operator: models.OpBetween, Value: []any{float64(5), float64(10)}},
			},
			want: 2,
		},
		{
			name: "in list",
			filters: []models.VizFilter{
				{Field: "region", Operator: models.OpIn, Value: []any{"apac", "amer"}},
			},
			want: 1,
		},
		{
			name: "not in list",
			filters: []models.VizFilter{
				{Field: "region", Operator: models.OpNotIn, Value: []any{"apac"}},
			},
			want: 2,
		},
		{
			name: "is null",
			filters: []models.VizFilter{
				{Field: "note", Operator: models.OpIsNull},
			},
			want: 1,
		},
		{
			name: "is not null",
			filters: []models.VizFilter{
				{Field: "note", Operator: models.OpIsNotNull},
			},
			want: 2,
		},
		{
			name: "filters combine with AND",
			filters: []models.VizFilter{
				{Field: "region", Operator: models.OpEquals, Value: "emea"},
				{Field: "total", Operator: models.OpGreaterThan, Value: float64(8)},
			},
			want: 1,
		},
		{
			name: "unknown operator passes rows through",
			filters: []models.VizFilter{
				{Field: "region", Operator: "regex", Value: ".*"},
			},
			want: 3,
		},
		{
			name: "null value fails comparison operators",
			filters: []models.VizFilter{
				{Field: "note", Operator: models.OpContains, Value: "order"},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(filterRows(), tt.filters, zap.NewNop())
			assert.Len(t, got, tt.want)
		})
	}
}

func TestAggregate(t *testing.T) {
	rows := []map[string]any{
		{"region": "A", "total": float64(10), "qty": float64(1)},
		{"region": "B", "total": float64(7), "qty": nil},
		{"region": "A", "total": float64(5), "qty": float64(3)},
	}
	mapping := &models.DataMapping{X: "region"}

	out := Aggregate(rows, mapping, []models.VizAggregation{
		{On: "total", Op: models.AggSum},
		{On: "qty", Op: models.AggCount},
	})

	assert.Equal(t, []map[string]any{
		{"region": "A", "total_sum": float64(15), "qty_count": float64(2)},
		{"region": "B", "total_sum": float64(7), "qty_count": float64(0)},
	}, out)
}

func TestAggregateOps(t *testing.T) {
	rows := []map[string]any{
		{"g": "x", "v": float64(4)},
		{"g": "x", "v": float64(10)},
		{"g": "x", "v": nil},
		{"g": "x", "v": float64(4)},
	}
	mapping := &models.DataMapping{Category: "g"}

	tests := []struct {
		op   string
		want any
	}{
		{op: models.AggSum, want: float64(18)},
		{op: models.AggAvg, want: float64(6)},
		{op: models.AggMin, want: float64(4)},
		{op: models.AggMax, want: float64(10)},
		{op: models.AggCount, want: float64(3)},
		{op: models.AggCountDistinct, want: float64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			out := Aggregate(rows, mapping, []models.VizAggregation{{On: "v", Op: tt.op}})
			assert.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0]["v_"+tt.op])
		})
	}
}

func TestAggregateEmptyGroup(t *testing.T) {
	rows := []map[string]any{{"g": "x", "v": nil}}
	mapping := &models.DataMapping{Dimension: "g"}

	out := Aggregate(rows, mapping, []models.VizAggregation{{On: "v", Op: models.AggAvg}})
	assert.Len(t, out, 1)
	assert.Nil(t, out[0]["v_avg"])
}

func TestAggregateNoAggregationsPassesThrough(t *testing.T) {
	rows := filterRows()
	out := Aggregate(rows, &models.DataMapping{X: "region"}, nil)
	assert.Equal(t, rows, out)
}

func TestGroupField(t *testing.T) {
	assert.Equal(t, "region", GroupField(&models.DataMapping{X: "region", Category: "c"}))
	assert.Equal(t, "c", GroupField(&models.DataMapping{Category: "c"}))
	assert.Equal(t, "d", GroupField(&models.DataMapping{Dimension: "d"}))
	assert.Equal(t, "", GroupField(&models.DataMapping{}))
}
