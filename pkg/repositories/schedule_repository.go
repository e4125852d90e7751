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

// ScheduleRepository defines data access for schedules and their execution
// records. Executions are append-only.
type ScheduleRepository interface {
	Create(ctx context.Context, s *models.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)

	// ListActive returns schedules with active = TRUE, for cron registration
	// at startup.
	ListActive(ctx context.Context) ([]*models.Schedule, error)

	Update(ctx context.Context, s *models.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error

	// SetActive toggles a schedule on or off.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	// SetNextFire records the next computed fire time.
	SetNextFire(ctx context.Context, id uuid.UUID, at *time.Time) error

	// RecordRun folds one completed run into the schedule's statistics.
	RecordRun(ctx context.Context, id uuid.UUID, at time.Time, failed bool) error

	// CreateExecution appends a new execution record.
	CreateExecution(ctx context.Context, e *models.ScheduleExecution) error

	// UpdateExecution transitions an execution's state. Terminal states must
	// carry CompletedAt.
	UpdateExecution(ctx context.Context, e *models.ScheduleExecution) error

	// ListExecutions returns the most recent executions for a schedule.
	ListExecutions(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.ScheduleExecution, error)

	// CancelExecution moves a pending execution to cancelled. Any other
	// current state is a conflict.
	CancelExecution(ctx context.Context, execID uuid.UUID) error
}

type scheduleRepository struct {
	db *database.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *database.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Create(ctx context.Context, s *models.Schedule) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	parameters, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	channels, err := json.Marshal(s.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery channels: %w", err)
	}

	query := `
		INSERT INTO pulse_schedules (id, report_id, name, cron, timezone, parameters, format,
			channels, window_start, window_end, active, next_fire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.Exec(ctx, query,
		s.ID, s.ReportID, s.Name, s.Cron, s.Timezone, parameters, s.Format,
		channels, s.Window.Start, s.Window.End, s.Active, s.NextFireAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: report %s", apperrors.ErrNotFound, s.ReportID)
		}
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

const scheduleColumns = `id, report_id, name, cron, timezone, parameters, format, channels,
	window_start, window_end, active, next_fire_at, run_count, failure_count, last_run_at,
	created_at, updated_at`

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var s models.Schedule
	var parameters, channels []byte

	err := row.Scan(
		&s.ID, &s.ReportID, &s.Name, &s.Cron, &s.Timezone, &parameters, &s.Format, &channels,
		&s.Window.Start, &s.Window.End, &s.Active, &s.NextFireAt,
		&s.Stats.RunCount, &s.Stats.FailureCount, &s.Stats.LastRunAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &s.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &s.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery channels: %w", err)
		}
	}

	return &s, nil
}

func (r *scheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM pulse_schedules WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return s, nil
}

func (r *scheduleRepository) list(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func (r *scheduleRepository) List(ctx context.Context) ([]*models.Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM pulse_schedules ORDER BY created_at DESC`)
}

func (r *scheduleRepository) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM pulse_schedules WHERE active = TRUE ORDER BY created_at`)
}

func (r *scheduleRepository) Update(ctx context.Context, s *models.Schedule) error {
	parameters, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	channels, err := json.Marshal(s.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery channels: %w", err)
	}

	query := `
		UPDATE pulse_schedules
		SET name = $2, cron = $3, timezone = $4, parameters = $5, format = $6,
			channels = $7, window_start = $8, window_end = $9, updated_at = $10
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		s.ID, s.Name, s.Cron, s.Timezone, parameters, s.Format,
		channels, s.Window.Start, s.Window.End, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, s.ID)
	}

	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *scheduleRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.Exec(ctx,
		`UPDATE pulse_schedules SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set schedule active state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *scheduleRepository) SetNextFire(ctx context.Context, id uuid.UUID, at *time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE pulse_schedules SET next_fire_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to set next fire time: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *scheduleRepository) RecordRun(ctx context.Context, id uuid.UUID, at time.Time, failed bool) error {
	query := `
		UPDATE pulse_schedules
		SET run_count = run_count + 1,
			failure_count = failure_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			last_run_at = $2
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, at, failed)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *scheduleRepository) CreateExecution(ctx context.Context, e *models.ScheduleExecution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	delivery, err := json.Marshal(e.Delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery outcomes: %w", err)
	}

	query := `
		INSERT INTO pulse_schedule_executions (id, schedule_id, state, started_at,
			completed_at, duration_ms, error, delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		e.ID, e.ScheduleID, e.State, e.StartedAt, e.CompletedAt, e.DurationMs, e.Error, delivery)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, e.ScheduleID)
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (r *scheduleRepository) UpdateExecution(ctx context.Context, e *models.ScheduleExecution) error {
	if models.TerminalExecutionState(e.State) && e.CompletedAt == nil {
		return fmt.Errorf("terminal state %q requires a completion time", e.State)
	}

	delivery, err := json.Marshal(e.Delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery outcomes: %w", err)
	}

	query := `
		UPDATE pulse_schedule_executions
		SET state = $2, completed_at = $3, duration_ms = $4, error = $5, delivery = $6
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		e.ID, e.State, e.CompletedAt, e.DurationMs, e.Error, delivery)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: execution %s", apperrors.ErrNotFound, e.ID)
	}

	return nil
}

func (r *scheduleRepository) ListExecutions(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.ScheduleExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, schedule_id, state, started_at, completed_at, duration_ms, error, delivery
		FROM pulse_schedule_executions
		WHERE schedule_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.ScheduleExecution
	for rows.Next() {
		var e models.ScheduleExecution
		var errMsg *string
		var delivery []byte
		err := rows.Scan(&e.ID, &e.ScheduleID, &e.State, &e.StartedAt,
			&e.CompletedAt, &e.DurationMs, &errMsg, &delivery)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if errMsg != nil {
			e.Error = *errMsg
		}
		if len(delivery) > 0 {
			if err := json.Unmarshal(delivery, &e.Delivery); err != nil {
				return nil, fmt.Errorf("failed to unmarshal delivery outcomes: %w", err)
			}
		}
		executions = append(executions, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *scheduleRepository) CancelExecution(ctx context.Context, execID uuid.UUID) error {
	query := `
		UPDATE pulse_schedule_executions
		SET state = $2, completed_at = NOW()
		WHERE id = $1 AND state = $3`

	result, err := r.db.Exec(ctx, query, execID, models.ExecutionCancelled, models.ExecutionPending)
	if err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		checkQuery := `SELECT EXISTS (SELECT 1 FROM pulse_schedule_executions WHERE id = $1)`
		if err := r.db.QueryRow(ctx, checkQuery, execID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check execution: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: execution %s", apperrors.ErrNotFound, execID)
		}
		return fmt.Errorf("%w: only pending executions can be cancelled", apperrors.ErrConflict)
	}

	return nil
}

var _ ScheduleRepository = (*scheduleRepository)(nil)
