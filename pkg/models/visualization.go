package models

import (
	"time"

	"github.com/google/uuid"
)

// Renderers supported by the visualization pipeline.
const (
	RendererChartJS = "chartjs"
	RendererD3      = "d3"
	RendererCustom  = "custom"
)

// Filter operators. String comparisons are case-insensitive unless the
// filter sets CaseSensitive.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpBetween     = "between"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpIsNull      = "is_null"
	OpIsNotNull   = "is_not_null"
)

// Aggregation operations.
const (
	AggSum           = "sum"
	AggAvg           = "avg"
	AggMin           = "min"
	AggMax           = "max"
	AggCount         = "count"
	AggCountDistinct = "count_distinct"
)

// VizFilter restricts dataset rows before aggregation and mapping.
type VizFilter struct {
	Field         string `json:"field"`
	Operator      string `json:"operator"`
	Value         any    `json:"value,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// VizAggregation computes a grouped statistic over a field.
type VizAggregation struct {
	Op string `json:"op"`
	On string `json:"on"`
}

// DataMapping binds dataset columns to the renderer's axes/roles.
type DataMapping struct {
	X         string   `json:"x,omitempty"`
	Y         string   `json:"y,omitempty"`
	Category  string   `json:"category,omitempty"`
	Dimension string   `json:"dimension,omitempty"`
	Series    []string `json:"series,omitempty"`
	Size      string   `json:"size,omitempty"` // bubble radius
	Value     string   `json:"value,omitempty"`
	Label     string   `json:"label,omitempty"`
}

// Visualization describes how a dataset is turned into a renderer payload.
type Visualization struct {
	ID           uuid.UUID        `json:"id"`
	DatasetID    uuid.UUID        `json:"dataset_id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"` // bar, line, pie, scatter, table, metric, gauge, ...
	Renderer     string           `json:"renderer"`
	Config       map[string]any   `json:"config,omitempty"`
	DataMapping  DataMapping      `json:"data_mapping"`
	Filters      []VizFilter      `json:"filters,omitempty"`
	Aggregations []VizAggregation `json:"aggregations,omitempty"`
	CreatedBy    string           `json:"created_by,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// VizPayload is the packaged renderer-ready output.
type VizPayload struct {
	Visualization VizSummary  `json:"visualization"`
	Data          any         `json:"data"`
	Metadata      VizMetadata `json:"metadata"`
}

// VizSummary identifies the visualization inside a payload.
type VizSummary struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Renderer string         `json:"renderer"`
	Config   map[string]any `json:"config,omitempty"`
}

// VizMetadata carries provenance for a rendered payload.
type VizMetadata struct {
	RowCount    int       `json:"row_count"`
	GeneratedAt time.Time `json:"generated_at"`
	DatasetID   uuid.UUID `json:"dataset_id"`
}
