package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Adapter provides PostgreSQL connectivity. It implements both source.Prober
// and source.Runner over a single owned pool.
type Adapter struct {
	config *Config
	pool   *pgxpool.Pool
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields must be URL-escaped to handle special characters
// in passwords (e.g., @, /, #, ?) that would otherwise break URL parsing.
func buildConnectionString(cfg *Config) string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		cfg.SSLMode,
	)
}

// NewAdapter creates a PostgreSQL adapter with its own pool.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, buildConnectionString(cfg))
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("connect to postgres: %w", err))
	}

	return &Adapter{config: cfg, pool: pool}, nil
}

// Probe verifies the database is reachable with valid credentials.
// It checks:
// 1. Server connectivity (ping)
// 2. Database access (simple query)
// 3. Correct database name (to prevent connecting to a wrong/default database)
func (a *Adapter) Probe(ctx context.Context) (*models.ProbeResult, error) {
	if err := a.pool.Ping(ctx); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("ping failed: %w", err))
	}

	var version string
	if err := a.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("test query failed: %w", err))
	}

	var currentDB string
	if err := a.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to get current database name: %w", err))
	}
	if !strings.EqualFold(currentDB, a.config.Database) {
		return nil, fmt.Errorf("connected to wrong database: expected %q but connected to %q",
			a.config.Database, currentDB)
	}

	return &models.ProbeResult{
		OK:      true,
		Kind:    "postgres",
		Version: version,
		Message: fmt.Sprintf("connected to %s", currentDB),
	}, nil
}

// Run executes a SELECT with positional $N parameters and bounded results.
// pgx handles parameterized queries natively, preventing SQL injection.
func (a *Adapter) Run(ctx context.Context, sqlQuery string, params []any, limit int) (*source.RunResult, error) {
	queryToRun := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, source.EffectiveLimit(limit))

	rows, err := a.pool.Query(ctx, queryToRun, params...)
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]source.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = source.ColumnInfo{
			Name: string(fd.Name),
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, source.ClassifyError(fmt.Errorf("failed to read row values: %w", err))
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("error iterating rows: %w", err))
	}

	return &source.RunResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Discover returns user tables with column metadata, excluding system schemas.
func (a *Adapter) Discover(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT c.table_schema, c.table_name, c.column_name, c.data_type,
		       c.is_nullable = 'YES' AS nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE t.table_type = 'BASE TABLE'
		  AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to discover schema: %w", err))
	}
	defer rows.Close()

	var tables []source.TableInfo
	index := make(map[string]int)

	for rows.Next() {
		var schema, table, column, dataType string
		var nullable bool
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return nil, source.ClassifyError(fmt.Errorf("failed to scan schema row: %w", err))
		}

		key := schema + "." + table
		idx, ok := index[key]
		if !ok {
			idx = len(tables)
			index[key] = idx
			tables = append(tables, source.TableInfo{Schema: schema, Name: table})
		}
		tables[idx].Columns = append(tables[idx].Columns, source.ColumnInfo{
			Name:     column,
			Type:     strings.ToUpper(dataType),
			Nullable: nullable,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("error iterating schema rows: %w", err))
	}

	return tables, nil
}

// Close releases the pool.
func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// pgTypeNameFromOID maps common PostgreSQL type OIDs to readable names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 18:
		return "CHAR"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	default:
		return fmt.Sprintf("OID_%d", oid)
	}
}

// Compile-time interface checks.
var (
	_ source.Prober = (*Adapter)(nil)
	_ source.Runner = (*Adapter)(nil)
)
