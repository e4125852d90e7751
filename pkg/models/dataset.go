package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset is a persisted snapshot of a query result. Snapshots never expire
// (ExpiresAt nil); cache-backed datasets carry an expiry derived from the
// query's cache TTL and are reclaimed by background cleanup.
type Dataset struct {
	ID            uuid.UUID               `json:"id"`
	QueryID       uuid.UUID               `json:"query_id"`
	Name          string                  `json:"name"`
	Rows          []map[string]any        `json:"rows"`
	Schema        map[string]ColumnSchema `json:"schema"`
	RowCount      int                     `json:"row_count"`
	ColumnCount   int                     `json:"column_count"`
	ByteSize      int                     `json:"byte_size"`
	ExecutionTime float64                 `json:"execution_time_ms"`
	Parameters    map[string]any          `json:"parameters,omitempty"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty"`
	IsSnapshot    bool                    `json:"is_snapshot"`
	SourceDataset *uuid.UUID              `json:"source_dataset_id,omitempty"` // set for transform snapshots
	TransformOps  []TransformOp           `json:"transform_ops,omitempty"`
	CreatedBy     string                  `json:"created_by,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Expired reports whether a cache-backed dataset has passed its expiry.
// Snapshots never expire.
func (d *Dataset) Expired(now time.Time) bool {
	if d.IsSnapshot || d.ExpiresAt == nil {
		return false
	}
	return d.ExpiresAt.Before(now)
}

// Transform op types for Dataset transformations.
const (
	TransformFilter    = "filter"
	TransformProject   = "project"
	TransformAggregate = "aggregate"
	TransformDerive    = "derive"
)

// TransformOp is one step of a dataset transformation. The populated fields
// depend on Op: filter uses Field/Operator/Value, project uses Fields,
// aggregate uses GroupBy/Agg/On, derive uses Name/Expression.
type TransformOp struct {
	Op         string   `json:"op"`
	Field      string   `json:"field,omitempty"`
	Operator   string   `json:"operator,omitempty"`
	Value      any      `json:"value,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	GroupBy    string   `json:"group_by,omitempty"`
	Agg        string   `json:"agg,omitempty"`
	On         string   `json:"on,omitempty"`
	Name       string   `json:"name,omitempty"`
	Expression string   `json:"expression,omitempty"`
}
