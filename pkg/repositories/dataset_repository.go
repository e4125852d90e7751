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

// DatasetRepository defines data access for datasets. Rows are stored as a
// JSONB column and may be large; list operations exclude them.
type DatasetRepository interface {
	Create(ctx context.Context, d *models.Dataset) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dataset, error)

	// List returns dataset metadata without rows, newest first.
	List(ctx context.Context) ([]*models.Dataset, error)

	// UpdateData replaces the result payload in place after a refresh.
	UpdateData(ctx context.Context, d *models.Dataset) error

	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteExpired removes all non-snapshot datasets with expires_at < now.
	// Idempotent and safe to call concurrently; returns rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// CountByQuery returns how many datasets reference a query. Used to
	// block query deletion while references exist.
	CountByQuery(ctx context.Context, queryID uuid.UUID) (int, error)
}

type datasetRepository struct {
	db *database.DB
}

// NewDatasetRepository creates a new dataset repository.
func NewDatasetRepository(db *database.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

func marshalDatasetPayload(d *models.Dataset) (rows, schema, parameters, transformOps []byte, err error) {
	if rows, err = json.Marshal(d.Rows); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal rows: %w", err)
	}
	if schema, err = json.Marshal(d.Schema); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	if parameters, err = json.Marshal(d.Parameters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if transformOps, err = json.Marshal(d.TransformOps); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal transform ops: %w", err)
	}
	return rows, schema, parameters, transformOps, nil
}

func (r *datasetRepository) Create(ctx context.Context, d *models.Dataset) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	rows, schema, parameters, transformOps, err := marshalDatasetPayload(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pulse_datasets (id, query_id, name, rows, schema, row_count, column_count,
			byte_size, execution_time, parameters, expires_at, is_snapshot, source_dataset_id,
			transform_ops, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.db.Exec(ctx, query,
		d.ID, d.QueryID, d.Name, rows, schema, d.RowCount, d.ColumnCount,
		d.ByteSize, d.ExecutionTime, parameters, d.ExpiresAt, d.IsSnapshot, d.SourceDataset,
		transformOps, d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: query %s", apperrors.ErrNotFound, d.QueryID)
		}
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	return nil
}

func scanDataset(row pgx.Row, includeRows bool) (*models.Dataset, error) {
	var d models.Dataset
	var rowsJSON, schema, parameters, transformOps []byte
	var createdBy *string

	dest := []any{&d.ID, &d.QueryID, &d.Name}
	if includeRows {
		dest = append(dest, &rowsJSON)
	}
	dest = append(dest,
		&schema, &d.RowCount, &d.ColumnCount, &d.ByteSize, &d.ExecutionTime,
		&parameters, &d.ExpiresAt, &d.IsSnapshot, &d.SourceDataset,
		&transformOps, &createdBy, &d.CreatedAt, &d.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if createdBy != nil {
		d.CreatedBy = *createdBy
	}
	if len(rowsJSON) > 0 {
		if err := json.Unmarshal(rowsJSON, &d.Rows); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
		}
	}
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &d.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
		}
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &d.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	if len(transformOps) > 0 {
		if err := json.Unmarshal(transformOps, &d.TransformOps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transform ops: %w", err)
		}
	}

	return &d, nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	query := `
		SELECT id, query_id, name, rows, schema, row_count, column_count, byte_size,
			execution_time, parameters, expires_at, is_snapshot, source_dataset_id,
			transform_ops, created_by, created_at, updated_at
		FROM pulse_datasets WHERE id = $1`

	d, err := scanDataset(r.db.QueryRow(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: dataset %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return d, nil
}

func (r *datasetRepository) List(ctx context.Context) ([]*models.Dataset, error) {
	query := `
		SELECT id, query_id, name, schema, row_count, column_count, byte_size,
			execution_time, parameters, expires_at, is_snapshot, source_dataset_id,
			transform_ops, created_by, created_at, updated_at
		FROM pulse_datasets ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}

	return datasets, nil
}

func (r *datasetRepository) UpdateData(ctx context.Context, d *models.Dataset) error {
	rows, schema, parameters, _, err := marshalDatasetPayload(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE pulse_datasets
		SET rows = $2, schema = $3, row_count = $4, column_count = $5, byte_size = $6,
			execution_time = $7, parameters = $8, expires_at = $9, updated_at = $10
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		d.ID, rows, schema, d.RowCount, d.ColumnCount, d.ByteSize,
		d.ExecutionTime, parameters, d.ExpiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dataset %s", apperrors.ErrNotFound, d.ID)
	}

	return nil
}

func (r *datasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dataset %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *datasetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	// Snapshots carry expires_at IS NULL and is_snapshot = TRUE; both guards
	// keep them permanent even if one field is ever inconsistent.
	query := `
		DELETE FROM pulse_datasets
		WHERE is_snapshot = FALSE AND expires_at IS NOT NULL AND expires_at < $1`

	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired datasets: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *datasetRepository) CountByQuery(ctx context.Context, queryID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pulse_datasets WHERE query_id = $1`, queryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count datasets: %w", err)
	}
	return count, nil
}

var _ DatasetRepository = (*datasetRepository)(nil)
