package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Adapter provides SQL Server connectivity. It implements both source.Prober
// and source.Runner over a single owned connection.
type Adapter struct {
	config *Config
	db     *sql.DB
}

// buildConnectionString builds a sqlserver:// URL with proper escaping.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	query.Set("encrypt", cfg.Encrypt)

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewAdapter creates a SQL Server adapter and verifies connectivity.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("create connection: %w", err))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, source.ClassifyError(fmt.Errorf("connection test failed: %w", err))
	}

	return &Adapter{config: cfg, db: db}, nil
}

// Probe verifies the database is reachable with valid credentials and that
// the connection landed on the expected database.
func (a *Adapter) Probe(ctx context.Context) (*models.ProbeResult, error) {
	if err := a.db.PingContext(ctx); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("ping failed: %w", err))
	}

	var version string
	if err := a.db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&version); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("test query failed: %w", err))
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to get current database name: %w", err))
	}
	if !strings.EqualFold(currentDB, a.config.Database) {
		return nil, fmt.Errorf("connected to wrong database: expected %q but connected to %q",
			a.config.Database, currentDB)
	}

	return &models.ProbeResult{
		OK:      true,
		Kind:    "sqlserver",
		Version: firstLine(version),
		Message: fmt.Sprintf("connected to %s", currentDB),
	}, nil
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

// Run executes a SELECT with @pN named parameters and bounded results using
// SQL Server's TOP clause.
func (a *Adapter) Run(ctx context.Context, sqlQuery string, params []any, limit int) (*source.RunResult, error) {
	queryToRun := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", source.EffectiveLimit(limit), sqlQuery)

	namedParams := make([]any, len(params))
	for i, param := range params {
		namedParams[i] = sql.Named(fmt.Sprintf("p%d", i+1), param)
	}

	rows, err := a.db.QueryContext(ctx, queryToRun, namedParams...)
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to get columns: %w", err))
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to get column types: %w", err))
	}

	columns := make([]source.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		nullable, _ := columnTypes[i].Nullable()
		columns[i] = source.ColumnInfo{
			Name:     colName,
			Type:     columnTypes[i].DatabaseTypeName(),
			Nullable: nullable,
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, source.ClassifyError(fmt.Errorf("failed to scan row: %w", err))
		}

		rowMap := make(map[string]any)
		for i, col := range columnNames {
			val := values[i]
			// Text columns arrive as []byte from the driver.
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
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

func isStringType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT":
		return true
	}
	return false
}

// Discover returns user tables with column metadata, excluding system schemas.
func (a *Adapter) Discover(ctx context.Context) ([]source.TableInfo, error) {
	const query = `
		SELECT c.TABLE_SCHEMA, c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE,
		       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
		  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		  AND c.TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to discover schema: %w", err))
	}
	defer rows.Close()

	var tables []source.TableInfo
	index := make(map[string]int)

	for rows.Next() {
		var schema, table, column, dataType string
		var nullable int
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
			Nullable: nullable == 1,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, source.ClassifyError(fmt.Errorf("error iterating schema rows: %w", err))
	}

	return tables, nil
}

// Close releases the connection.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Compile-time interface checks.
var (
	_ source.Prober = (*Adapter)(nil)
	_ source.Runner = (*Adapter)(nil)
)
