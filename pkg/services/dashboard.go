package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
)

// ComposeOptions tunes a single dashboard composition.
type ComposeOptions struct {
	// SkipViewTracking leaves the view counter untouched. Set for
	// machine-driven compositions (realtime refresh, scheduled reports).
	SkipViewTracking bool `json:"skip_view_tracking"`
	// AutoRefresh re-materializes expired datasets while rendering items.
	AutoRefresh bool `json:"auto_refresh"`
	// SkipCache bypasses the composed-payload cache.
	SkipCache bool `json:"skip_cache"`
}

// DashboardService manages dashboards and composes them into rendered
// payloads.
type DashboardService interface {
	Create(ctx context.Context, d *models.Dashboard) (*models.Dashboard, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Dashboard, error)
	List(ctx context.Context) ([]*models.Dashboard, error)
	Update(ctx context.Context, d *models.Dashboard) (*models.Dashboard, error)
	Delete(ctx context.Context, id uuid.UUID) error

	AddItem(ctx context.Context, item *models.DashboardItem) (*models.DashboardItem, error)
	UpdateItem(ctx context.Context, item *models.DashboardItem) (*models.DashboardItem, error)
	DeleteItem(ctx context.Context, dashboardID, itemID uuid.UUID) error

	// UpdateItemPositions moves a batch of items atomically.
	UpdateItemPositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]models.ItemPosition) error

	// Clone copies a dashboard and its items under a new name.
	Clone(ctx context.Context, id uuid.UUID, name, createdBy string) (*models.Dashboard, error)

	// Compose renders every item of a dashboard. Item failures are isolated:
	// a failing item carries an item-level error and never aborts siblings.
	Compose(ctx context.Context, id uuid.UUID, opts ComposeOptions) (*models.ComposedDashboard, error)

	// DashboardsForVisualization lists dashboards whose items reference a
	// visualization. Used for realtime invalidation push.
	DashboardsForVisualization(ctx context.Context, visualizationID uuid.UUID) ([]uuid.UUID, error)
}

type dashboardService struct {
	repo           repositories.DashboardRepository
	visualizations VisualizationService
	cache          *cache.Store
	logger         *zap.Logger
}

// NewDashboardService creates the dashboard service.
func NewDashboardService(
	repo repositories.DashboardRepository,
	visualizations VisualizationService,
	store *cache.Store,
	logger *zap.Logger,
) DashboardService {
	return &dashboardService{
		repo:           repo,
		visualizations: visualizations,
		cache:          store,
		logger:         logger,
	}
}

func (s *dashboardService) Create(ctx context.Context, d *models.Dashboard) (*models.Dashboard, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Dashboard created",
		zap.String("id", d.ID.String()),
		zap.String("name", d.Name))
	return d, nil
}

func (s *dashboardService) Get(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *dashboardService) List(ctx context.Context) ([]*models.Dashboard, error) {
	return s.repo.List(ctx)
}

func (s *dashboardService) Update(ctx context.Context, d *models.Dashboard) (*models.Dashboard, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.KindDashboard, d.ID.String())
	s.logger.Info("Dashboard updated", zap.String("id", d.ID.String()))
	return d, nil
}

func (s *dashboardService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindDashboard, id.String())
	s.logger.Info("Dashboard deleted", zap.String("id", id.String()))
	return nil
}

func (s *dashboardService) AddItem(ctx context.Context, item *models.DashboardItem) (*models.DashboardItem, error) {
	if !item.Position.Valid() {
		return nil, fmt.Errorf("%w: position coordinates must be non-negative with positive extent", apperrors.ErrBadInput)
	}
	// The visualization must exist at placement time even though the
	// reference stays weak afterwards.
	if _, err := s.visualizations.Get(ctx, item.VisualizationID); err != nil {
		return nil, err
	}

	if err := s.repo.AddItem(ctx, item); err != nil {
		return nil, err
	}

	s.cache.AddDependency(ctx, cache.KindVisualization, item.VisualizationID.String(),
		cache.KindDashboard, item.DashboardID.String())
	s.cache.Invalidate(ctx, cache.KindDashboard, item.DashboardID.String())
	return item, nil
}

func (s *dashboardService) UpdateItem(ctx context.Context, item *models.DashboardItem) (*models.DashboardItem, error) {
	if !item.Position.Valid() {
		return nil, fmt.Errorf("%w: position coordinates must be non-negative with positive extent", apperrors.ErrBadInput)
	}
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.KindDashboard, item.DashboardID.String())
	return item, nil
}

func (s *dashboardService) DeleteItem(ctx context.Context, dashboardID, itemID uuid.UUID) error {
	if err := s.repo.DeleteItem(ctx, dashboardID, itemID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindDashboard, dashboardID.String())
	return nil
}

func (s *dashboardService) UpdateItemPositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]models.ItemPosition) error {
	for itemID, pos := range positions {
		if !pos.Valid() {
			return fmt.Errorf("%w: invalid position for item %s", apperrors.ErrBadInput, itemID)
		}
	}

	if err := s.repo.UpdateItemPositions(ctx, dashboardID, positions); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindDashboard, dashboardID.String())
	return nil
}

func (s *dashboardService) Clone(ctx context.Context, id uuid.UUID, name, createdBy string) (*models.Dashboard, error) {
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = src.Name + " (copy)"
	}

	clone := &models.Dashboard{
		Name:            name,
		Layout:          src.Layout,
		Theme:           src.Theme,
		RefreshInterval: src.RefreshInterval,
		IsRealtime:      src.IsRealtime,
		CreatedBy:       createdBy,
	}
	if err := s.repo.Create(ctx, clone); err != nil {
		return nil, err
	}

	for _, item := range src.Items {
		copied := models.DashboardItem{
			DashboardID:     clone.ID,
			VisualizationID: item.VisualizationID,
			Position:        item.Position,
			Title:           item.Title,
			Order:           item.Order,
			IsLocked:        item.IsLocked,
		}
		if err := s.repo.AddItem(ctx, &copied); err != nil {
			return nil, err
		}
		clone.Items = append(clone.Items, copied)
		s.cache.AddDependency(ctx, cache.KindVisualization, copied.VisualizationID.String(),
			cache.KindDashboard, clone.ID.String())
	}

	s.logger.Info("Dashboard cloned",
		zap.String("source_id", id.String()),
		zap.String("id", clone.ID.String()),
		zap.Int("items", len(clone.Items)))
	return clone, nil
}

func (s *dashboardService) Compose(ctx context.Context, id uuid.UUID, opts ComposeOptions) (*models.ComposedDashboard, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// View tracking counts the request, not the render, so a cache hit is
	// still a view.
	if !opts.SkipViewTracking {
		if err := s.repo.RecordView(ctx, d.ID, time.Now()); err != nil {
			s.logger.Warn("Failed to record dashboard view",
				zap.String("id", d.ID.String()), zap.Error(err))
		}
	}

	cacheKey := cache.Key(cache.KindDashboard, d.ID.String())
	if !opts.SkipCache {
		var cached models.ComposedDashboard
		if s.cache.Get(ctx, cacheKey, &cached) {
			return &cached, nil
		}
	}

	items := make([]models.ComposedItem, 0, len(d.Items))
	for _, item := range d.Items {
		composed := models.ComposedItem{
			ID:       item.ID,
			Position: item.Position,
			Title:    item.Title,
			Order:    item.Order,
		}

		payload, err := s.visualizations.Render(ctx, item.VisualizationID,
			RenderOptions{AutoRefresh: opts.AutoRefresh})
		if err != nil {
			s.logger.Warn("Dashboard item failed to render",
				zap.String("dashboard_id", d.ID.String()),
				zap.String("item_id", item.ID.String()),
				zap.String("visualization_id", item.VisualizationID.String()),
				zap.Error(err))
			composed.Error = &models.ItemError{Message: err.Error()}
		} else {
			composed.Payload = payload
		}
		items = append(items, composed)
	}

	result := &models.ComposedDashboard{
		Dashboard: models.DashboardSummary{
			ID:              d.ID,
			Name:            d.Name,
			Layout:          d.Layout,
			Theme:           d.Theme,
			RefreshInterval: d.RefreshInterval,
			IsRealtime:      d.IsRealtime,
		},
		Items: items,
		Metadata: models.ComposeMetadata{
			RenderedAt: time.Now().UTC(),
			ItemCount:  len(items),
		},
	}

	if !opts.SkipCache {
		s.cache.Set(ctx, cacheKey, result, 0)
	}
	return result, nil
}

func (s *dashboardService) DashboardsForVisualization(ctx context.Context, visualizationID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListIDsByVisualization(ctx, visualizationID)
}

var _ DashboardService = (*dashboardService)(nil)
