package render

import (
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// palette is the default 10-color ring; dataset and slice colors index into it
// modulo its length.
var palette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a245",
	"#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac",
}

func paletteColor(i int) string {
	return palette[i%len(palette)]
}

// perPointColorTypes lists chart types that color each data point rather than
// each series.
var perPointColorTypes = map[string]bool{
	"pie":       true,
	"doughnut":  true,
	"polarArea": true,
}

func isPointChart(vizType string) bool {
	return vizType == "scatter" || vizType == "bubble"
}

// chartJSPayload maps rows into a Chart.js config:
// {type, data:{labels, datasets[]}, options}.
func chartJSPayload(viz *models.Visualization, rows []map[string]any) map[string]any {
	if isPointChart(viz.Type) {
		return map[string]any{
			"type":    viz.Type,
			"data":    map[string]any{"datasets": pointDatasets(viz, rows)},
			"options": chartOptions(viz),
		}
	}

	mapping := &viz.DataMapping
	labelField := GroupField(mapping)

	labels := make([]any, len(rows))
	for i, row := range rows {
		labels[i] = row[labelField]
	}

	// Series fields each become a dataset; without an explicit series list
	// the y field is broadcast as the single dataset. Fields that fed an
	// aggregation read from their "{field}_{op}" output column.
	seriesFields := mapping.Series
	if len(seriesFields) == 0 && mapping.Y != "" {
		seriesFields = []string{mapping.Y}
	}

	datasets := make([]map[string]any, 0, len(seriesFields))
	for i, field := range seriesFields {
		field = AggregatedField(field, viz.Aggregations)
		data := make([]any, len(rows))
		for j, row := range rows {
			data[j] = row[field]
		}

		ds := map[string]any{
			"label": field,
			"data":  data,
		}
		if perPointColorTypes[viz.Type] {
			colors := make([]string, len(rows))
			for j := range rows {
				colors[j] = paletteColor(j)
			}
			ds["backgroundColor"] = colors
		} else {
			ds["backgroundColor"] = paletteColor(i)
			ds["borderColor"] = paletteColor(i)
		}
		datasets = append(datasets, ds)
	}

	return map[string]any{
		"type": viz.Type,
		"data": map[string]any{
			"labels":   labels,
			"datasets": datasets,
		},
		"options": chartOptions(viz),
	}
}

// pointDatasets maps rows to scatter/bubble point form: {x, y} plus r for
// bubbles when a size field is mapped.
func pointDatasets(viz *models.Visualization, rows []map[string]any) []map[string]any {
	mapping := &viz.DataMapping

	yField := AggregatedField(mapping.Y, viz.Aggregations)
	sizeField := AggregatedField(mapping.Size, viz.Aggregations)

	points := make([]map[string]any, len(rows))
	for i, row := range rows {
		point := map[string]any{
			"x": row[mapping.X],
			"y": row[yField],
		}
		if viz.Type == "bubble" && mapping.Size != "" {
			point["r"] = row[sizeField]
		}
		points[i] = point
	}

	return []map[string]any{{
		"label":           viz.Name,
		"data":            points,
		"backgroundColor": paletteColor(0),
	}}
}

func chartOptions(viz *models.Visualization) map[string]any {
	options := map[string]any{"responsive": true}
	if raw, ok := viz.Config["options"].(map[string]any); ok {
		for k, v := range raw {
			options[k] = v
		}
	}
	return options
}
