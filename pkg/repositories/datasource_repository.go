// Package repositories contains the PostgreSQL data access layer. Each
// repository is an interface with a pgx-backed implementation; polymorphic
// fields (config, definition, layout, parameters) are stored as JSONB.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/database"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// DataSourceRepository defines data access for data sources.
// Config is stored as encrypted TEXT - encryption/decryption is handled by
// the service layer.
type DataSourceRepository interface {
	// Create inserts a new data source. Returns ErrConflict if the name exists.
	Create(ctx context.Context, ds *models.DataSource, encryptedConfig string) error

	// GetByID retrieves a data source by ID along with its encrypted config.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, string, error)

	// List retrieves all data sources with their encrypted configs, newest first.
	List(ctx context.Context) ([]*models.DataSource, []string, error)

	// Update modifies name, kind, service tag, and encrypted config.
	Update(ctx context.Context, ds *models.DataSource, encryptedConfig string) error

	// UpdateProbeState records the outcome of a connectivity probe.
	UpdateProbeState(ctx context.Context, id uuid.UUID, status string, at time.Time) error

	// UpdateMetadata stores the latest discovery snapshot.
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error

	// Delete removes a data source by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

type dataSourceRepository struct {
	db *database.DB
}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository(db *database.DB) DataSourceRepository {
	return &dataSourceRepository{db: db}
}

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource, encryptedConfig string) error {
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}

	metadata, err := json.Marshal(ds.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO pulse_datasources (id, name, kind, config, service_tag, metadata, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		ds.ID, ds.Name, ds.Kind, encryptedConfig, ds.ServiceTag, metadata, ds.CreatedBy, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: data source %q already exists", apperrors.ErrConflict, ds.Name)
		}
		return fmt.Errorf("failed to create data source: %w", err)
	}

	return nil
}

const dataSourceColumns = `id, name, kind, config, service_tag, metadata, last_probe, probe_status, created_by, created_at, updated_at`

func scanDataSource(row pgx.Row) (*models.DataSource, string, error) {
	var ds models.DataSource
	var encryptedConfig string
	var serviceTag, probeStatus, createdBy *string
	var metadata []byte

	err := row.Scan(
		&ds.ID, &ds.Name, &ds.Kind, &encryptedConfig, &serviceTag, &metadata,
		&ds.LastProbe, &probeStatus, &createdBy, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, "", err
	}

	if serviceTag != nil {
		ds.ServiceTag = *serviceTag
	}
	if probeStatus != nil {
		ds.ProbeStatus = *probeStatus
	}
	if createdBy != nil {
		ds.CreatedBy = *createdBy
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ds.Metadata); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &ds, encryptedConfig, nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, string, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM pulse_datasources WHERE id = $1`

	ds, encryptedConfig, err := scanDataSource(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("failed to get data source: %w", err)
	}

	return ds, encryptedConfig, nil
}

func (r *dataSourceRepository) List(ctx context.Context) ([]*models.DataSource, []string, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM pulse_datasources ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.DataSource
	var configs []string
	for rows.Next() {
		ds, encryptedConfig, err := scanDataSource(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, ds)
		configs = append(configs, encryptedConfig)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating data sources: %w", err)
	}

	return sources, configs, nil
}

func (r *dataSourceRepository) Update(ctx context.Context, ds *models.DataSource, encryptedConfig string) error {
	query := `
		UPDATE pulse_datasources
		SET name = $2, kind = $3, config = $4, service_tag = $5, updated_at = $6
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, ds.ID, ds.Name, ds.Kind, encryptedConfig, ds.ServiceTag, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: data source %q already exists", apperrors.ErrConflict, ds.Name)
		}
		return fmt.Errorf("failed to update data source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, ds.ID)
	}

	return nil
}

func (r *dataSourceRepository) UpdateProbeState(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	query := `UPDATE pulse_datasources SET probe_status = $2, last_probe = $3 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to update probe state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *dataSourceRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `UPDATE pulse_datasources SET metadata = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *dataSourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_datasources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
	}

	return nil
}

var _ DataSourceRepository = (*dataSourceRepository)(nil)
