// Package source defines the adapter contracts for the data source kinds the
// engine can execute against, plus the registry adapters register into.
package source

import (
	"context"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

// MaxQueryLimit is the hard cap on rows returned by Run.
// This protects against unbounded queries that could crash the server.
const MaxQueryLimit = 10000

// Prober checks that a data source is reachable with valid credentials.
// Each implementation owns its connection and must be closed when done.
type Prober interface {
	// Probe verifies reachability and returns server details on success.
	Probe(ctx context.Context) (*models.ProbeResult, error)

	// Close releases the underlying connection.
	Close() error
}

// Runner executes prepared SQL against a relational source. The SQL arrives
// with driver-native placeholders already in place; values travel separately.
type Runner interface {
	// Run executes a SELECT and returns bounded results.
	//
	// Limit behavior:
	//   - limit <= 0: uses MaxQueryLimit
	//   - limit > MaxQueryLimit: capped to MaxQueryLimit
	//   - otherwise: uses the specified limit
	Run(ctx context.Context, sqlQuery string, params []any, limit int) (*RunResult, error)

	// Discover returns the user tables visible to the connection, with
	// column metadata. System schemas are excluded.
	Discover(ctx context.Context) ([]TableInfo, error)

	// Close releases the underlying connection.
	Close() error
}

// ColumnInfo describes a result column with source-agnostic type information.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// RunResult holds the rows produced by a Run call.
type RunResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// TableInfo describes a discovered table.
type TableInfo struct {
	Schema  string       `json:"schema"`
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}
