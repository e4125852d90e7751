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
	"github.com/pulsehq/pulse-engine/pkg/render"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
)

// RenderOptions tunes a single render.
type RenderOptions struct {
	// AutoRefresh re-materializes an expired backing dataset before
	// rendering instead of failing.
	AutoRefresh bool `json:"auto_refresh"`
	// SkipCache bypasses the payload cache for both read and write.
	SkipCache bool `json:"skip_cache"`
}

// VisualizationService manages visualizations and renders them into payloads.
type VisualizationService interface {
	Create(ctx context.Context, v *models.Visualization) (*models.Visualization, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error)
	List(ctx context.Context) ([]*models.Visualization, error)
	Update(ctx context.Context, v *models.Visualization) (*models.Visualization, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Render produces the renderer-ready payload for a visualization.
	Render(ctx context.Context, id uuid.UUID, opts RenderOptions) (*models.VizPayload, error)

	// SetNotifier attaches the realtime broadcaster. Writes then push a
	// refresh to dashboards referencing the visualization.
	SetNotifier(n ChangeNotifier)
}

// ChangeNotifier pushes a live refresh to every dashboard whose content a
// visualization change touches. The realtime hub implements it; services hold
// it behind this interface so the hub can depend on them and not the other
// way around. A nil notifier means no broadcaster is attached.
type ChangeNotifier interface {
	NotifyVisualizationChanged(ctx context.Context, visualizationID uuid.UUID)
}

type visualizationService struct {
	repo     repositories.VisualizationRepository
	datasets DatasetService
	cache    *cache.Store
	notifier ChangeNotifier
	logger   *zap.Logger
}

// NewVisualizationService creates the visualization service.
func NewVisualizationService(
	repo repositories.VisualizationRepository,
	datasets DatasetService,
	store *cache.Store,
	logger *zap.Logger,
) VisualizationService {
	return &visualizationService{
		repo:     repo,
		datasets: datasets,
		cache:    store,
		logger:   logger,
	}
}

func (s *visualizationService) validate(ctx context.Context, v *models.Visualization) error {
	if v.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if v.Type == "" {
		return fmt.Errorf("%w: type is required", apperrors.ErrBadInput)
	}
	switch v.Renderer {
	case models.RendererChartJS, models.RendererD3, models.RendererCustom:
	default:
		return fmt.Errorf("%w: unknown renderer %q", apperrors.ErrBadInput, v.Renderer)
	}

	d, err := s.datasets.Get(ctx, v.DatasetID)
	if err != nil {
		return err
	}

	// Mapped fields must exist in the dataset, or name the "{field}_{op}"
	// output column of a declared aggregation; aggregation sources must
	// additionally be numeric.
	for _, field := range mappedFields(&v.DataMapping) {
		if _, ok := d.Schema[field]; ok {
			continue
		}
		if !isAggregationOutput(field, v.Aggregations) {
			return fmt.Errorf("%w: mapped field %q is not in the dataset schema", apperrors.ErrBadInput, field)
		}
	}
	for _, agg := range v.Aggregations {
		switch agg.Op {
		case models.AggSum, models.AggAvg, models.AggMin, models.AggMax,
			models.AggCount, models.AggCountDistinct:
		default:
			return fmt.Errorf("%w: unknown aggregation %q", apperrors.ErrBadInput, agg.Op)
		}
		col, ok := d.Schema[agg.On]
		if !ok {
			return fmt.Errorf("%w: aggregation field %q is not in the dataset schema", apperrors.ErrBadInput, agg.On)
		}
		numericRequired := agg.Op != models.AggCount && agg.Op != models.AggCountDistinct
		if numericRequired && col.Type != "number" {
			return fmt.Errorf("%w: aggregation field %q is not numeric", apperrors.ErrBadInput, agg.On)
		}
	}

	return nil
}

func isAggregationOutput(field string, aggs []models.VizAggregation) bool {
	for _, agg := range aggs {
		if field == agg.On+"_"+agg.Op {
			return true
		}
	}
	return false
}

func mappedFields(m *models.DataMapping) []string {
	var fields []string
	for _, f := range []string{m.X, m.Y, m.Category, m.Dimension, m.Size, m.Value, m.Label} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	fields = append(fields, m.Series...)
	return fields
}

func (s *visualizationService) Create(ctx context.Context, v *models.Visualization) (*models.Visualization, error) {
	if err := s.validate(ctx, v); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}

	// Dataset writes must evict this visualization's payload.
	s.cache.AddDependency(ctx, cache.KindDataset, v.DatasetID.String(),
		cache.KindVisualization, v.ID.String())

	s.logger.Info("Visualization created",
		zap.String("id", v.ID.String()),
		zap.String("name", v.Name),
		zap.String("renderer", v.Renderer))
	return v, nil
}

func (s *visualizationService) Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *visualizationService) List(ctx context.Context) ([]*models.Visualization, error) {
	return s.repo.List(ctx)
}

func (s *visualizationService) Update(ctx context.Context, v *models.Visualization) (*models.Visualization, error) {
	if err := s.validate(ctx, v); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return nil, err
	}

	s.cache.AddDependency(ctx, cache.KindDataset, v.DatasetID.String(),
		cache.KindVisualization, v.ID.String())
	// Evicts this payload and cascades to dashboards that reference it.
	s.cache.Invalidate(ctx, cache.KindVisualization, v.ID.String())
	if s.notifier != nil {
		s.notifier.NotifyVisualizationChanged(ctx, v.ID)
	}

	s.logger.Info("Visualization updated", zap.String("id", v.ID.String()))
	return v, nil
}

func (s *visualizationService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindVisualization, id.String())
	if s.notifier != nil {
		s.notifier.NotifyVisualizationChanged(ctx, id)
	}
	s.logger.Info("Visualization deleted", zap.String("id", id.String()))
	return nil
}

func (s *visualizationService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

func (s *visualizationService) Render(ctx context.Context, id uuid.UUID, opts RenderOptions) (*models.VizPayload, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.Key(cache.KindVisualization, v.ID.String())
	if !opts.SkipCache {
		var cached models.VizPayload
		if s.cache.Get(ctx, cacheKey, &cached) {
			return &cached, nil
		}
	}

	d, err := s.datasets.Fetch(ctx, v.DatasetID, opts.AutoRefresh)
	if err != nil {
		return nil, err
	}

	data, err := render.Build(v, d.Rows, s.logger)
	if err != nil {
		return nil, err
	}

	payload := &models.VizPayload{
		Visualization: models.VizSummary{
			ID:       v.ID,
			Name:     v.Name,
			Type:     v.Type,
			Renderer: v.Renderer,
			Config:   v.Config,
		},
		Data: data,
		Metadata: models.VizMetadata{
			RowCount:    d.RowCount,
			GeneratedAt: time.Now().UTC(),
			DatasetID:   d.ID,
		},
	}

	if !opts.SkipCache {
		s.cache.Set(ctx, cacheKey, payload, 0)
	}
	return payload, nil
}

var _ VisualizationService = (*visualizationService)(nil)
