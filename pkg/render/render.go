package render

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Build runs the filter, aggregate, and map stages for a visualization and
// returns the renderer-specific data payload.
func Build(viz *models.Visualization, rows []map[string]any, logger *zap.Logger) (any, error) {
	rows = Filter(rows, viz.Filters, logger)
	rows = Aggregate(rows, &viz.DataMapping, viz.Aggregations)

	switch viz.Renderer {
	case models.RendererChartJS:
		return chartJSPayload(viz, rows), nil
	case models.RendererD3:
		return d3Payload(viz, rows), nil
	case models.RendererCustom:
		return customPayload(viz, rows)
	}
	return nil, fmt.Errorf("%w: unknown renderer %q", apperrors.ErrBadInput, viz.Renderer)
}

// d3Payload passes rows through with the mapping and sized defaults; the d3
// frontend owns the actual drawing.
func d3Payload(viz *models.Visualization, rows []map[string]any) map[string]any {
	config := map[string]any{
		"width":  640,
		"height": 480,
		"margin": map[string]any{"top": 20, "right": 20, "bottom": 30, "left": 40},
	}
	for k, v := range viz.Config {
		config[k] = v
	}

	return map[string]any{
		"type":    viz.Type,
		"data":    rows,
		"mapping": viz.DataMapping,
		"config":  config,
	}
}

func customPayload(viz *models.Visualization, rows []map[string]any) (any, error) {
	switch viz.Type {
	case "table":
		return tablePayload(viz, rows), nil
	case "metric":
		return metricPayload(viz, rows), nil
	case "gauge":
		return gaugePayload(viz, rows), nil
	}
	return nil, fmt.Errorf("%w: unknown custom visualization type %q", apperrors.ErrBadInput, viz.Type)
}

func tablePayload(viz *models.Visualization, rows []map[string]any) map[string]any {
	var columns []string
	if len(viz.DataMapping.Series) > 0 {
		columns = viz.DataMapping.Series
	} else if len(rows) > 0 {
		for key := range rows[0] {
			columns = append(columns, key)
		}
		sort.Strings(columns)
	}

	return map[string]any{
		"columns": columns,
		"rows":    rows,
		"sort":    viz.Config["sort"],
		"filter":  viz.Config["filter"],
		"page":    viz.Config["page"],
	}
}

// metricValue pulls the single displayed value: the mapped value field of the
// first row, read from its aggregation output column when one applies.
func metricValue(viz *models.Visualization, rows []map[string]any) any {
	field := viz.DataMapping.Value
	if field == "" {
		field = viz.DataMapping.Y
	}
	if len(rows) == 0 || field == "" {
		return nil
	}
	return rows[0][AggregatedField(field, viz.Aggregations)]
}

func metricPayload(viz *models.Visualization, rows []map[string]any) map[string]any {
	label := viz.DataMapping.Label
	if label == "" {
		label = viz.Name
	}
	return map[string]any{
		"value":  metricValue(viz, rows),
		"label":  label,
		"format": viz.Config["format"],
	}
}

func gaugePayload(viz *models.Visualization, rows []map[string]any) map[string]any {
	min, max := any(0), any(100)
	if v, ok := viz.Config["min"]; ok {
		min = v
	}
	if v, ok := viz.Config["max"]; ok {
		max = v
	}
	return map[string]any{
		"value":      metricValue(viz, rows),
		"min":        min,
		"max":        max,
		"thresholds": viz.Config["thresholds"],
	}
}
