package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/database"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// QueryRepository defines data access for saved queries.
type QueryRepository interface {
	Create(ctx context.Context, q *models.Query) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Query, error)
	List(ctx context.Context) ([]*models.Query, error)
	Update(ctx context.Context, q *models.Query) error
	Delete(ctx context.Context, id uuid.UUID) error

	// RecordExecution updates execution statistics in a single atomic
	// statement: increments the count, folds durationMs into the running
	// mean, and stamps last_executed_at.
	RecordExecution(ctx context.Context, id uuid.UUID, durationMs float64, at time.Time) error

	// CountByDataSource returns how many queries reference a data source.
	// Used to block data source deletion while references exist.
	CountByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int, error)
}

type queryRepository struct {
	db *database.DB
}

// NewQueryRepository creates a new query repository.
func NewQueryRepository(db *database.DB) QueryRepository {
	return &queryRepository{db: db}
}

func (r *queryRepository) Create(ctx context.Context, q *models.Query) error {
	now := time.Now()
	q.CreatedAt = now
	q.UpdatedAt = now
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}

	paramDefs, err := json.Marshal(q.ParameterDefs)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter definitions: %w", err)
	}

	query := `
		INSERT INTO pulse_queries (id, datasource_id, name, kind, definition, parameter_defs,
			cache_enabled, cache_ttl, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		q.ID, q.DataSourceID, q.Name, q.Kind, []byte(q.Definition), paramDefs,
		q.CacheEnabled, q.CacheTTL, q.CreatedBy, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, q.DataSourceID)
		}
		return fmt.Errorf("failed to create query: %w", err)
	}

	return nil
}

const queryColumns = `id, datasource_id, name, kind, definition, parameter_defs,
	cache_enabled, cache_ttl, execution_count, avg_execution_time, last_executed_at,
	created_by, created_at, updated_at`

func scanQuery(row pgx.Row) (*models.Query, error) {
	var q models.Query
	var definition, paramDefs []byte
	var createdBy *string

	err := row.Scan(
		&q.ID, &q.DataSourceID, &q.Name, &q.Kind, &definition, &paramDefs,
		&q.CacheEnabled, &q.CacheTTL, &q.Stats.ExecutionCount, &q.Stats.AvgExecutionTime,
		&q.Stats.LastExecutedAt, &createdBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}

	q.Definition = json.RawMessage(definition)
	if createdBy != nil {
		q.CreatedBy = *createdBy
	}
	if len(paramDefs) > 0 {
		if err := json.Unmarshal(paramDefs, &q.ParameterDefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameter definitions: %w", err)
		}
	}

	return &q, nil
}

func (r *queryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	query := `SELECT ` + queryColumns + ` FROM pulse_queries WHERE id = $1`

	q, err := scanQuery(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: query %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	return q, nil
}

func (r *queryRepository) List(ctx context.Context) ([]*models.Query, error) {
	query := `SELECT ` + queryColumns + ` FROM pulse_queries ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var queries []*models.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		queries = append(queries, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queries: %w", err)
	}

	return queries, nil
}

func (r *queryRepository) Update(ctx context.Context, q *models.Query) error {
	paramDefs, err := json.Marshal(q.ParameterDefs)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter definitions: %w", err)
	}

	query := `
		UPDATE pulse_queries
		SET name = $2, kind = $3, definition = $4, parameter_defs = $5,
			cache_enabled = $6, cache_ttl = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		q.ID, q.Name, q.Kind, []byte(q.Definition), paramDefs,
		q.CacheEnabled, q.CacheTTL, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update query: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: query %s", apperrors.ErrNotFound, q.ID)
	}

	return nil
}

func (r *queryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_queries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete query: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: query %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *queryRepository) RecordExecution(ctx context.Context, id uuid.UUID, durationMs float64, at time.Time) error {
	// Running mean folded in-place: avg' = avg + (x - avg) / (n + 1).
	query := `
		UPDATE pulse_queries
		SET execution_count = execution_count + 1,
			avg_execution_time = avg_execution_time + ($2 - avg_execution_time) / (execution_count + 1),
			last_executed_at = $3
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, durationMs, at)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: query %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *queryRepository) CountByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pulse_queries WHERE datasource_id = $1`, dataSourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queries: %w", err)
	}
	return count, nil
}

var _ QueryRepository = (*queryRepository)(nil)
