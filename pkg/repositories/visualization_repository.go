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

// VisualizationRepository defines data access for visualizations.
type VisualizationRepository interface {
	Create(ctx context.Context, v *models.Visualization) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Visualization, error)
	List(ctx context.Context) ([]*models.Visualization, error)
	Update(ctx context.Context, v *models.Visualization) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByDataset returns visualizations over a dataset. Used for cache
	// invalidation fan-out when the dataset changes.
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.Visualization, error)
}

type visualizationRepository struct {
	db *database.DB
}

// NewVisualizationRepository creates a new visualization repository.
func NewVisualizationRepository(db *database.DB) VisualizationRepository {
	return &visualizationRepository{db: db}
}

func marshalVizFields(v *models.Visualization) (config, mapping, filters, aggregations []byte, err error) {
	if config, err = json.Marshal(v.Config); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if mapping, err = json.Marshal(v.DataMapping); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal data mapping: %w", err)
	}
	if filters, err = json.Marshal(v.Filters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal filters: %w", err)
	}
	if aggregations, err = json.Marshal(v.Aggregations); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal aggregations: %w", err)
	}
	return config, mapping, filters, aggregations, nil
}

func (r *visualizationRepository) Create(ctx context.Context, v *models.Visualization) error {
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}

	config, mapping, filters, aggregations, err := marshalVizFields(v)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pulse_visualizations (id, dataset_id, name, type, renderer, config,
			data_mapping, filters, aggregations, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		v.ID, v.DatasetID, v.Name, v.Type, v.Renderer, config,
		mapping, filters, aggregations, v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: dataset %s", apperrors.ErrNotFound, v.DatasetID)
		}
		return fmt.Errorf("failed to create visualization: %w", err)
	}

	return nil
}

const vizColumns = `id, dataset_id, name, type, renderer, config, data_mapping,
	filters, aggregations, created_by, created_at, updated_at`

func scanVisualization(row pgx.Row) (*models.Visualization, error) {
	var v models.Visualization
	var config, mapping, filters, aggregations []byte
	var createdBy *string

	err := row.Scan(
		&v.ID, &v.DatasetID, &v.Name, &v.Type, &v.Renderer, &config, &mapping,
		&filters, &aggregations, &createdBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if createdBy != nil {
		v.CreatedBy = *createdBy
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &v.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &v.DataMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data mapping: %w", err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &v.Filters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
		}
	}
	if len(aggregations) > 0 {
		if err := json.Unmarshal(aggregations, &v.Aggregations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aggregations: %w", err)
		}
	}

	return &v, nil
}

func (r *visualizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	query := `SELECT ` + vizColumns + ` FROM pulse_visualizations WHERE id = $1`

	v, err := scanVisualization(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: visualization %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get visualization: %w", err)
	}

	return v, nil
}

func (r *visualizationRepository) list(ctx context.Context, query string, args ...any) ([]*models.Visualization, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list visualizations: %w", err)
	}
	defer rows.Close()

	var vizzes []*models.Visualization
	for rows.Next() {
		v, err := scanVisualization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visualization: %w", err)
		}
		vizzes = append(vizzes, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating visualizations: %w", err)
	}

	return vizzes, nil
}

func (r *visualizationRepository) List(ctx context.Context) ([]*models.Visualization, error) {
	return r.list(ctx, `SELECT `+vizColumns+` FROM pulse_visualizations ORDER BY created_at DESC`)
}

func (r *visualizationRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.Visualization, error) {
	return r.list(ctx,
		`SELECT `+vizColumns+` FROM pulse_visualizations WHERE dataset_id = $1 ORDER BY created_at DESC`,
		datasetID)
}

func (r *visualizationRepository) Update(ctx context.Context, v *models.Visualization) error {
	config, mapping, filters, aggregations, err := marshalVizFields(v)
	if err != nil {
		return err
	}

	query := `
		UPDATE pulse_visualizations
		SET name = $2, type = $3, renderer = $4, config = $5, data_mapping = $6,
			filters = $7, aggregations = $8, updated_at = $9
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		v.ID, v.Name, v.Type, v.Renderer, config, mapping, filters, aggregations, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update visualization: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: visualization %s", apperrors.ErrNotFound, v.ID)
	}

	return nil
}

func (r *visualizationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_visualizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete visualization: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: visualization %s", apperrors.ErrNotFound, id)
	}

	return nil
}

var _ VisualizationRepository = (*visualizationRepository)(nil)
