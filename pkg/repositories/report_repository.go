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

// ReportRepository defines data access for reports.
type ReportRepository interface {
	Create(ctx context.Context, rep *models.Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error)
	List(ctx context.Context) ([]*models.Report, error)
	Update(ctx context.Context, rep *models.Report) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type reportRepository struct {
	db *database.DB
}

// NewReportRepository creates a new report repository.
func NewReportRepository(db *database.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, rep *models.Report) error {
	now := time.Now()
	rep.CreatedAt = now
	rep.UpdatedAt = now
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}

	parameters, err := json.Marshal(rep.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO pulse_reports (id, query_id, name, parameters, format, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		rep.ID, rep.QueryID, rep.Name, parameters, rep.Format, rep.CreatedBy, rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: query %s", apperrors.ErrNotFound, rep.QueryID)
		}
		return fmt.Errorf("failed to create report: %w", err)
	}

	return nil
}

const reportColumns = `id, query_id, name, parameters, format, created_by, created_at, updated_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var rep models.Report
	var parameters []byte
	var createdBy *string

	err := row.Scan(&rep.ID, &rep.QueryID, &rep.Name, &parameters, &rep.Format,
		&createdBy, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if createdBy != nil {
		rep.CreatedBy = *createdBy
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &rep.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}

	return &rep, nil
}

func (r *reportRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM pulse_reports WHERE id = $1`

	rep, err := scanReport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: report %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return rep, nil
}

func (r *reportRepository) List(ctx context.Context) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM pulse_reports ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, rep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

func (r *reportRepository) Update(ctx context.Context, rep *models.Report) error {
	parameters, err := json.Marshal(rep.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		UPDATE pulse_reports
		SET name = $2, parameters = $3, format = $4, updated_at = $5
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, rep.ID, rep.Name, parameters, rep.Format, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: report %s", apperrors.ErrNotFound, rep.ID)
	}

	return nil
}

func (r *reportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: report %s", apperrors.ErrNotFound, id)
	}

	return nil
}

var _ ReportRepository = (*reportRepository)(nil)
