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

// DashboardRepository defines data access for dashboards and their items.
// Items cascade-delete with the dashboard.
type DashboardRepository interface {
	Create(ctx context.Context, d *models.Dashboard) error

	// GetByID retrieves a dashboard with its items ordered by item_order.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error)

	// List retrieves all dashboards without items, newest first.
	List(ctx context.Context) ([]*models.Dashboard, error)

	Update(ctx context.Context, d *models.Dashboard) error
	Delete(ctx context.Context, id uuid.UUID) error

	AddItem(ctx context.Context, item *models.DashboardItem) error
	UpdateItem(ctx context.Context, item *models.DashboardItem) error
	DeleteItem(ctx context.Context, dashboardID, itemID uuid.UUID) error

	// UpdateItemPositions applies a batch of position changes atomically:
	// either every item moves or none do.
	UpdateItemPositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]models.ItemPosition) error

	// RecordView bumps the view counter and stamps last_viewed_at.
	RecordView(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListIDsByVisualization returns dashboards whose items reference a
	// visualization. Used for realtime invalidation push.
	ListIDsByVisualization(ctx context.Context, visualizationID uuid.UUID) ([]uuid.UUID, error)
}

type dashboardRepository struct {
	db *database.DB
}

// NewDashboardRepository creates a new dashboard repository.
func NewDashboardRepository(db *database.DB) DashboardRepository {
	return &dashboardRepository{db: db}
}

func (r *dashboardRepository) Create(ctx context.Context, d *models.Dashboard) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	layout, err := json.Marshal(d.Layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	query := `
		INSERT INTO pulse_dashboards (id, name, layout, theme, refresh_interval, is_realtime,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		d.ID, d.Name, layout, d.Theme, d.RefreshInterval, d.IsRealtime,
		d.CreatedBy, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}

	return nil
}

const dashboardColumns = `id, name, layout, theme, refresh_interval, is_realtime,
	view_count, last_viewed_at, created_by, created_at, updated_at`

func scanDashboard(row pgx.Row) (*models.Dashboard, error) {
	var d models.Dashboard
	var layout []byte
	var theme, createdBy *string

	err := row.Scan(
		&d.ID, &d.Name, &layout, &theme, &d.RefreshInterval, &d.IsRealtime,
		&d.ViewCount, &d.LastViewedAt, &createdBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if theme != nil {
		d.Theme = *theme
	}
	if createdBy != nil {
		d.CreatedBy = *createdBy
	}
	if len(layout) > 0 {
		if err := json.Unmarshal(layout, &d.Layout); err != nil {
			return nil, fmt.Errorf("failed to unmarshal layout: %w", err)
		}
	}

	return &d, nil
}

func (r *dashboardRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	query := `SELECT ` + dashboardColumns + ` FROM pulse_dashboards WHERE id = $1`

	d, err := scanDashboard(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Items = items

	return d, nil
}

func (r *dashboardRepository) listItems(ctx context.Context, dashboardID uuid.UUID) ([]models.DashboardItem, error) {
	query := `
		SELECT id, dashboard_id, visualization_id, pos_x, pos_y, pos_w, pos_h,
			title, item_order, is_locked, created_at, updated_at
		FROM pulse_dashboard_items
		WHERE dashboard_id = $1
		ORDER BY item_order`

	rows, err := r.db.Query(ctx, query, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboard items: %w", err)
	}
	defer rows.Close()

	var items []models.DashboardItem
	for rows.Next() {
		var item models.DashboardItem
		var title *string
		err := rows.Scan(
			&item.ID, &item.DashboardID, &item.VisualizationID,
			&item.Position.X, &item.Position.Y, &item.Position.W, &item.Position.H,
			&title, &item.Order, &item.IsLocked, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dashboard item: %w", err)
		}
		if title != nil {
			item.Title = *title
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dashboard items: %w", err)
	}

	return items, nil
}

func (r *dashboardRepository) List(ctx context.Context) ([]*models.Dashboard, error) {
	query := `SELECT ` + dashboardColumns + ` FROM pulse_dashboards ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	var dashboards []*models.Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dashboard: %w", err)
		}
		dashboards = append(dashboards, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dashboards: %w", err)
	}

	return dashboards, nil
}

func (r *dashboardRepository) Update(ctx context.Context, d *models.Dashboard) error {
	layout, err := json.Marshal(d.Layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	query := `
		UPDATE pulse_dashboards
		SET name = $2, layout = $3, theme = $4, refresh_interval = $5, is_realtime = $6, updated_at = $7
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		d.ID, d.Name, layout, d.Theme, d.RefreshInterval, d.IsRealtime, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update dashboard: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, d.ID)
	}

	return nil
}

func (r *dashboardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_dashboards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *dashboardRepository) AddItem(ctx context.Context, item *models.DashboardItem) error {
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	query := `
		INSERT INTO pulse_dashboard_items (id, dashboard_id, visualization_id,
			pos_x, pos_y, pos_w, pos_h, title, item_order, is_locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		item.ID, item.DashboardID, item.VisualizationID,
		item.Position.X, item.Position.Y, item.Position.W, item.Position.H,
		item.Title, item.Order, item.IsLocked, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, item.DashboardID)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item order %d already used", apperrors.ErrConflict, item.Order)
		}
		return fmt.Errorf("failed to add dashboard item: %w", err)
	}

	return nil
}

func (r *dashboardRepository) UpdateItem(ctx context.Context, item *models.DashboardItem) error {
	query := `
		UPDATE pulse_dashboard_items
		SET visualization_id = $3, pos_x = $4, pos_y = $5, pos_w = $6, pos_h = $7,
			title = $8, item_order = $9, is_locked = $10, updated_at = $11
		WHERE dashboard_id = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query,
		item.DashboardID, item.ID, item.VisualizationID,
		item.Position.X, item.Position.Y, item.Position.W, item.Position.H,
		item.Title, item.Order, item.IsLocked, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item order %d already used", apperrors.ErrConflict, item.Order)
		}
		return fmt.Errorf("failed to update dashboard item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dashboard item %s", apperrors.ErrNotFound, item.ID)
	}

	return nil
}

func (r *dashboardRepository) DeleteItem(ctx context.Context, dashboardID, itemID uuid.UUID) error {
	result, err := r.db.Exec(ctx,
		`DELETE FROM pulse_dashboard_items WHERE dashboard_id = $1 AND id = $2`, dashboardID, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete dashboard item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dashboard item %s", apperrors.ErrNotFound, itemID)
	}

	return nil
}

func (r *dashboardRepository) UpdateItemPositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]models.ItemPosition) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	query := `
		UPDATE pulse_dashboard_items
		SET pos_x = $3, pos_y = $4, pos_w = $5, pos_h = $6, updated_at = $7
		WHERE dashboard_id = $1 AND id = $2`

	now := time.Now()
	for itemID, pos := range positions {
		result, err := tx.Exec(ctx, query, dashboardID, itemID, pos.X, pos.Y, pos.W, pos.H, now)
		if err != nil {
			return fmt.Errorf("failed to update item position: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("%w: dashboard item %s", apperrors.ErrNotFound, itemID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *dashboardRepository) RecordView(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE pulse_dashboards
		SET view_count = view_count + 1, last_viewed_at = $2
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *dashboardRepository) ListIDsByVisualization(ctx context.Context, visualizationID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT dashboard_id
		FROM pulse_dashboard_items
		WHERE visualization_id = $1`

	rows, err := r.db.Query(ctx, query, visualizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards by visualization: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dashboard ids: %w", err)
	}

	return ids, nil
}

var _ DashboardRepository = (*dashboardRepository)(nil)
