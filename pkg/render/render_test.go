package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

func TestBuildUnknownRenderer(t *testing.T) {
	viz := &models.Visualization{Renderer: "webgl"}

	_, err := Build(viz, nil, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
}

func TestD3Payload(t *testing.T) {
	viz := &models.Visualization{
		Type:        "chord",
		Renderer:    models.RendererD3,
		Config:      map[string]any{"width": 900},
		DataMapping: models.DataMapping{X: "src", Y: "dst"},
	}
	rows := []map[string]any{{"src": "a", "dst": "b"}}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Equal(t, "chord", out["type"])
	assert.Equal(t, rows, out["data"])
	assert.Equal(t, viz.DataMapping, out["mapping"])

	config := out["config"].(map[string]any)
	assert.Equal(t, 900, config["width"], "visualization config overrides defaults")
	assert.Equal(t, 480, config["height"])
	assert.NotNil(t, config["margin"])
}

func TestTablePayload(t *testing.T) {
	viz := &models.Visualization{
		Type:     "table",
		Renderer: models.RendererCustom,
		Config:   map[string]any{"sort": map[string]any{"field": "total", "dir": "desc"}},
	}
	rows := []map[string]any{
		{"region": "a", "total": float64(1)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Equal(t, []string{"region", "total"}, out["columns"], "columns inferred and sorted")
	assert.Equal(t, rows, out["rows"])
	assert.NotNil(t, out["sort"])
}

func TestTablePayloadExplicitColumns(t *testing.T) {
	viz := &models.Visualization{
		Type:        "table",
		Renderer:    models.RendererCustom,
		DataMapping: models.DataMapping{Series: []string{"total", "region"}},
	}

	payload, err := Build(viz, []map[string]any{{"region": "a", "total": float64(1)}}, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Equal(t, []string{"total", "region"}, out["columns"], "mapped series order wins")
}

func TestMetricPayload(t *testing.T) {
	viz := &models.Visualization{
		Name:        "Revenue",
		Type:        "metric",
		Renderer:    models.RendererCustom,
		Config:      map[string]any{"format": "currency"},
		DataMapping: models.DataMapping{Value: "total"},
	}
	rows := []map[string]any{
		{"total": float64(1234)},
		{"total": float64(99)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Equal(t, float64(1234), out["value"], "first row wins")
	assert.Equal(t, "Revenue", out["label"], "name is the fallback label")
	assert.Equal(t, "currency", out["format"])
}

func TestMetricPayloadAggregatedValue(t *testing.T) {
	viz := &models.Visualization{
		Name:         "Total revenue",
		Type:         "metric",
		Renderer:     models.RendererCustom,
		DataMapping:  models.DataMapping{Value: "total"},
		Aggregations: []models.VizAggregation{{On: "total", Op: models.AggSum}},
	}
	rows := []map[string]any{
		{"total": float64(10)},
		{"total": float64(32)},
	}

	payload, err := Build(viz, rows, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Equal(t, float64(42), out["value"], "value reads the aggregation output")
}

func TestMetricPayloadEmptyRows(t *testing.T) {
	viz := &models.Visualization{
		Type:        "metric",
		Renderer:    models.RendererCustom,
		DataMapping: models.DataMapping{Value: "total", Label: "Total"},
	}

	payload, err := Build(viz, nil, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Nil(t, out["value"])
	assert.Equal(t, "Total", out["label"])
}

func TestGaugePayload(t *testing.T) {
	viz := &models.Visualization{
		Type:        "gauge",
		Renderer:    models.RendererCustom,
		Config:      map[string]any{"max": float64(500), "thresholds": []any{float64(100), float64(400)}},
		DataMapping: models.DataMapping{Y: "cpu"},
	}

	payload, err := Build(viz, []map[string]any{{"cpu": float64(73)}}, zap.NewNop())
	require.NoError(t, err)

	out := payload.(map[string]any)
	assert.Equal(t, float64(73), out["value"], "value falls back to y when no value field mapped")
	assert.Equal(t, any(0), out["min"])
	assert.Equal(t, float64(500), out["max"])
	assert.NotNil(t, out["thresholds"])
}

func TestCustomUnknownType(t *testing.T) {
	viz := &models.Visualization{Type: "sparkline", Renderer: models.RendererCustom}

	_, err := Build(viz, nil, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
}
