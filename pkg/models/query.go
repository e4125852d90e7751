package models

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Query kinds. "custom" exists in older deployments but is rejected at
// validation; the expression kind is the supported programmable path.
const (
	QueryKindSQL        = "sql"
	QueryKindREST       = "rest"
	QueryKindExpression = "expression"
	QueryKindCustom     = "custom"
)

// Parameter types accepted in ParameterDef.Type.
const (
	ParamTypeString   = "string"
	ParamTypeNumber   = "number"
	ParamTypeBoolean  = "boolean"
	ParamTypeDate     = "date"
	ParamTypeDatetime = "datetime"
	ParamTypeSelect   = "select"
	ParamTypeMulti    = "multi"
	ParamTypeUser     = "user"
	ParamTypeRange    = "range"
)

// ParameterNamePattern constrains parameter names to identifier form.
var ParameterNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParameterValidation holds optional validation rules applied after coercion.
type ParameterValidation struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// ParameterDef declares a single query parameter. Definitions are immutable
// within a query version.
type ParameterDef struct {
	Name       string               `json:"name"`
	Type       string               `json:"type"`
	Required   bool                 `json:"required"`
	Default    any                  `json:"default,omitempty"`
	Options    []string             `json:"options,omitempty"` // select/multi choices
	Validation *ParameterValidation `json:"validation,omitempty"`
}

// SQLDefinition is the definition payload for sql-kind queries.
// Parameters appear as :name placeholders and are bound at the driver level.
type SQLDefinition struct {
	SQL string `json:"sql"`
}

// RESTDefinition is the definition payload for rest-kind queries.
// :name tokens may appear in the URL template, header values, query params,
// and the JSON body; DataPath optionally extracts the row array from the
// response (dot path, e.g. "data.items").
type RESTDefinition struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Body     json.RawMessage   `json:"body,omitempty"`
	DataPath string            `json:"data_path,omitempty"`
}

// ExpressionDefinition is the definition payload for expression-kind queries:
// a source selector (saved query or inline rest fetch) plus a transform
// expression over the resulting records.
type ExpressionDefinition struct {
	SourceQueryID *uuid.UUID      `json:"source_query_id,omitempty"`
	SourceREST    *RESTDefinition `json:"source_rest,omitempty"`
	Expression    string          `json:"expression"`
}

// QueryStats tracks execution statistics, updated atomically per run.
type QueryStats struct {
	ExecutionCount   int64      `json:"execution_count"`
	AvgExecutionTime float64    `json:"avg_execution_time_ms"`
	LastExecutedAt   *time.Time `json:"last_executed_at,omitempty"`
}

// Query is a saved query against a data source.
type Query struct {
	ID            uuid.UUID       `json:"id"`
	DataSourceID  uuid.UUID       `json:"datasource_id"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Definition    json.RawMessage `json:"definition"`
	ParameterDefs []ParameterDef  `json:"parameter_defs,omitempty"`
	CacheEnabled  bool            `json:"cache_enabled"`
	CacheTTL      int             `json:"cache_ttl"` // seconds, >= 0
	Stats         QueryStats      `json:"stats"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ColumnSchema describes one result column.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // number, boolean, string, date, array, object, unknown
	Nullable bool   `json:"nullable"`
}

// Result is a normalized execution result: ordered records with identical
// key sets and a schema derived from the first record.
type Result struct {
	Rows          []map[string]any        `json:"rows"`
	Schema        map[string]ColumnSchema `json:"schema"`
	RowCount      int                     `json:"row_count"`
	ColumnCount   int                     `json:"column_count"`
	ExecutionTime float64                 `json:"execution_time_ms"`
	Cached        bool                    `json:"cached"`
}
