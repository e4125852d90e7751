package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

func TestChartJSBarFromAggregation(t *testing.T) {
	viz := &models.Visualization{
		Name:         "Totals by region",
		Type:         "bar",
		Renderer:     models.RendererChartJS,
		DataMapping:  models.DataMapping{X: "region", Series: []string{"total_sum"}},
		Aggregations: []models.VizAggregation{{On: "total", Op: models.AggSum}},
	}
	rows := []map[string]any{
		{"region": "A", "total": float64(10)},
		{"region": "B", "total": float64(7)},
		{"region": "A", "total": float64(5)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	chart, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bar", chart["type"])

	data := chart["data"].(map[string]any)
	assert.Equal(t, []any{"A", "B"}, data["labels"])

	datasets := data["datasets"].([]map[string]any)
	require.Len(t, datasets, 1)
	assert.Equal(t, "total_sum", datasets[0]["label"])
	assert.Equal(t, []any{float64(15), float64(7)}, datasets[0]["data"])
	assert.Equal(t, palette[0], datasets[0]["backgroundColor"])
	assert.Equal(t, palette[0], datasets[0]["borderColor"])
}

func TestChartJSRawFieldResolvesToAggregationOutput(t *testing.T) {
	// The mapping names the source column; the data must come from the
	// aggregated "amt_sum" column, not the (now absent) raw one.
	viz := &models.Visualization{
		Type:         "bar",
		Renderer:     models.RendererChartJS,
		DataMapping:  models.DataMapping{X: "region", Y: "amt"},
		Aggregations: []models.VizAggregation{{On: "amt", Op: models.AggSum}},
	}
	rows := []map[string]any{
		{"region": "A", "amt": float64(10)},
		{"region": "A", "amt": float64(5)},
		{"region": "B", "amt": float64(7)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	data := payload.(map[string]any)["data"].(map[string]any)
	assert.Equal(t, []any{"A", "B"}, data["labels"])

	datasets := data["datasets"].([]map[string]any)
	require.Len(t, datasets, 1)
	assert.Equal(t, "amt_sum", datasets[0]["label"])
	assert.Equal(t, []any{float64(15), float64(7)}, datasets[0]["data"])
}

func TestAggregatedField(t *testing.T) {
	aggs := []models.VizAggregation{{On: "amt", Op: models.AggSum}}

	assert.Equal(t, "amt_sum", AggregatedField("amt", aggs))
	assert.Equal(t, "amt_sum", AggregatedField("amt_sum", aggs), "exact output names pass through")
	assert.Equal(t, "region", AggregatedField("region", aggs), "untouched fields pass through")
	assert.Equal(t, "amt", AggregatedField("amt", nil))
}

func TestChartJSYBroadcastWithoutSeries(t *testing.T) {
	viz := &models.Visualization{
		Type:        "line",
		Renderer:    models.RendererChartJS,
		DataMapping: models.DataMapping{X: "day", Y: "total"},
	}
	rows := []map[string]any{
		{"day": "mon", "total": float64(1)},
		{"day": "tue", "total": float64(2)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	data := payload.(map[string]any)["data"].(map[string]any)
	datasets := data["datasets"].([]map[string]any)
	require.Len(t, datasets, 1)
	assert.Equal(t, "total", datasets[0]["label"])
	assert.Equal(t, []any{float64(1), float64(2)}, datasets[0]["data"])
}

func TestChartJSPiePerPointColors(t *testing.T) {
	viz := &models.Visualization{
		Type:        "pie",
		Renderer:    models.RendererChartJS,
		DataMapping: models.DataMapping{Category: "region", Y: "total"},
	}
	rows := []map[string]any{
		{"region": "A", "total": float64(3)},
		{"region": "B", "total": float64(4)},
		{"region": "C", "total": float64(5)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	datasets := payload.(map[string]any)["data"].(map[string]any)["datasets"].([]map[string]any)
	require.Len(t, datasets, 1)
	colors := datasets[0]["backgroundColor"].([]string)
	assert.Equal(t, []string{palette[0], palette[1], palette[2]}, colors)
	assert.NotContains(t, datasets[0], "borderColor")
}

func TestChartJSScatterPoints(t *testing.T) {
	viz := &models.Visualization{
		Name:        "Price vs qty",
		Type:        "scatter",
		Renderer:    models.RendererChartJS,
		DataMapping: models.DataMapping{X: "price", Y: "qty"},
	}
	rows := []map[string]any{
		{"price": float64(9), "qty": float64(2)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	chart := payload.(map[string]any)
	data := chart["data"].(map[string]any)
	assert.NotContains(t, data, "labels")

	datasets := data["datasets"].([]map[string]any)
	require.Len(t, datasets, 1)
	assert.Equal(t, "Price vs qty", datasets[0]["label"])
	points := datasets[0]["data"].([]map[string]any)
	require.Len(t, points, 1)
	assert.Equal(t, float64(9), points[0]["x"])
	assert.Equal(t, float64(2), points[0]["y"])
	assert.NotContains(t, points[0], "r")
}

func TestChartJSBubbleRadius(t *testing.T) {
	viz := &models.Visualization{
		Type:        "bubble",
		Renderer:    models.RendererChartJS,
		DataMapping: models.DataMapping{X: "x", Y: "y", Size: "weight"},
	}
	rows := []map[string]any{
		{"x": float64(1), "y": float64(2), "weight": float64(8)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	datasets := payload.(map[string]any)["data"].(map[string]any)["datasets"].([]map[string]any)
	points := datasets[0]["data"].([]map[string]any)
	assert.Equal(t, float64(8), points[0]["r"])
}

func TestChartOptionsMergeConfig(t *testing.T) {
	viz := &models.Visualization{
		Type:     "bar",
		Renderer: models.RendererChartJS,
		Config: map[string]any{
			"options": map[string]any{"responsive": false, "indexAxis": "y"},
		},
		DataMapping: models.DataMapping{X: "g", Y: "v"},
	}

	payload, err := Build(viz, nil, zap.NewNop())
	require.NoError(t, err)

	options := payload.(map[string]any)["options"].(map[string]any)
	assert.Equal(t, false, options["responsive"])
	assert.Equal(t, "y", options["indexAxis"])
}
