package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/expression"
	"github.com/pulsehq/pulse-engine/pkg/metrics"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
)

// defaultDatasetTTL applies to cache-backed datasets whose query has no
// explicit cache TTL.
const defaultDatasetTTL = time.Hour

// CreateDatasetRequest materializes a query result as a dataset.
type CreateDatasetRequest struct {
	QueryID    uuid.UUID      `json:"query_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// IsSnapshot makes the dataset a permanent point-in-time capture.
	// Non-snapshot datasets expire with the query's cache TTL.
	IsSnapshot bool   `json:"is_snapshot"`
	CreatedBy  string `json:"created_by,omitempty"`
}

// DatasetService materializes query results into persisted datasets and
// derives snapshots through transformations.
type DatasetService interface {
	Create(ctx context.Context, req *CreateDatasetRequest) (*models.Dataset, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	List(ctx context.Context) ([]*models.Dataset, error)

	// Fetch loads a dataset for rendering. An expired dataset is refreshed
	// in place when autoRefresh is set; otherwise it reads as not found.
	Fetch(ctx context.Context, id uuid.UUID, autoRefresh bool) (*models.Dataset, error)

	// Refresh re-executes the dataset's query with its stored parameters and
	// replaces the payload in place. Transform-derived snapshots have no
	// query to re-run and are rejected.
	Refresh(ctx context.Context, id uuid.UUID) (*models.Dataset, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// Transform applies ops in order to a dataset's rows and persists the
	// output as a new permanent snapshot linked to its source.
	Transform(ctx context.Context, id uuid.UUID, name string, ops []models.TransformOp, createdBy string) (*models.Dataset, error)

	// CleanupLoop deletes expired cache-backed datasets every interval until
	// ctx is cancelled. Run it in its own goroutine.
	CleanupLoop(ctx context.Context, interval time.Duration)

	// SetNotifier attaches the realtime broadcaster. Refreshes and deletes
	// then push updates to dashboards built on this dataset.
	SetNotifier(n ChangeNotifier)
}

type datasetService struct {
	repo           repositories.DatasetRepository
	visualizations repositories.VisualizationRepository
	queries        QueryService
	cache          *cache.Store
	notifier       ChangeNotifier
	logger         *zap.Logger
}

// NewDatasetService creates the dataset service.
func NewDatasetService(
	repo repositories.DatasetRepository,
	visualizations repositories.VisualizationRepository,
	queries QueryService,
	store *cache.Store,
	logger *zap.Logger,
) DatasetService {
	return &datasetService{
		repo:           repo,
		visualizations: visualizations,
		queries:        queries,
		cache:          store,
		logger:         logger,
	}
}

func (s *datasetService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// notifyChanged pushes a realtime update through every visualization built on
// the dataset, reaching the dashboards that display them.
func (s *datasetService) notifyChanged(ctx context.Context, datasetID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	vizzes, err := s.visualizations.ListByDataset(ctx, datasetID)
	if err != nil {
		s.logger.Warn("Failed to list visualizations for realtime push",
			zap.String("dataset_id", datasetID.String()), zap.Error(err))
		return
	}
	for _, v := range vizzes {
		s.notifier.NotifyVisualizationChanged(ctx, v.ID)
	}
}

func (s *datasetService) Create(ctx context.Context, req *CreateDatasetRequest) (*models.Dataset, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}

	q, err := s.queries.Get(ctx, req.QueryID)
	if err != nil {
		return nil, err
	}

	// A dataset is one materialized execution; the result cache is bypassed
	// so the snapshot reflects the source at creation time.
	result, err := s.queries.Execute(ctx, q.ID, req.Parameters, ExecuteOptions{SkipCache: true})
	if err != nil {
		metrics.DatasetRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	d := &models.Dataset{
		QueryID:       q.ID,
		Name:          req.Name,
		Rows:          result.Rows,
		Schema:        result.Schema,
		RowCount:      result.RowCount,
		ColumnCount:   result.ColumnCount,
		ByteSize:      payloadSize(result.Rows),
		ExecutionTime: result.ExecutionTime,
		Parameters:    req.Parameters,
		IsSnapshot:    req.IsSnapshot,
		CreatedBy:     req.CreatedBy,
	}
	if !req.IsSnapshot {
		expires := time.Now().Add(datasetTTL(q))
		d.ExpiresAt = &expires
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	metrics.DatasetRefreshTotal.WithLabelValues("success").Inc()
	s.logger.Info("Dataset created",
		zap.String("id", d.ID.String()),
		zap.String("query_id", q.ID.String()),
		zap.Int("rows", d.RowCount),
		zap.Bool("snapshot", d.IsSnapshot))
	return d, nil
}

func datasetTTL(q *models.Query) time.Duration {
	if q.CacheTTL > 0 {
		return time.Duration(q.CacheTTL) * time.Second
	}
	return defaultDatasetTTL
}

func (s *datasetService) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Expired datasets awaiting cleanup are already gone to callers.
	if d.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: dataset %s has expired", apperrors.ErrNotFound, id)
	}
	return d, nil
}

func (s *datasetService) Fetch(ctx context.Context, id uuid.UUID, autoRefresh bool) (*models.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Expired(time.Now()) {
		return d, nil
	}
	if !autoRefresh {
		return nil, fmt.Errorf("%w: dataset %s has expired", apperrors.ErrNotFound, id)
	}
	return s.Refresh(ctx, id)
}

func (s *datasetService) List(ctx context.Context) ([]*models.Dataset, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	live := all[:0]
	for _, d := range all {
		if !d.Expired(now) {
			live = append(live, d)
		}
	}
	return live, nil
}

func (s *datasetService) Refresh(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.SourceDataset != nil {
		return nil, fmt.Errorf("%w: transform snapshots cannot be refreshed", apperrors.ErrBadInput)
	}

	result, err := s.queries.Execute(ctx, d.QueryID, d.Parameters, ExecuteOptions{SkipCache: true})
	if err != nil {
		metrics.DatasetRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	d.Rows = result.Rows
	d.Schema = result.Schema
	d.RowCount = result.RowCount
	d.ColumnCount = result.ColumnCount
	d.ByteSize = payloadSize(result.Rows)
	d.ExecutionTime = result.ExecutionTime
	if !d.IsSnapshot {
		q, err := s.queries.Get(ctx, d.QueryID)
		if err != nil {
			return nil, err
		}
		expires := time.Now().Add(datasetTTL(q))
		d.ExpiresAt = &expires
	}

	if err := s.repo.UpdateData(ctx, d); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.KindDataset, d.ID.String())
	s.notifyChanged(ctx, d.ID)
	metrics.DatasetRefreshTotal.WithLabelValues("success").Inc()
	s.logger.Info("Dataset refreshed",
		zap.String("id", d.ID.String()),
		zap.Int("rows", d.RowCount))
	return d, nil
}

func (s *datasetService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindDataset, id.String())
	s.notifyChanged(ctx, id)
	s.logger.Info("Dataset deleted", zap.String("id", id.String()))
	return nil
}

func (s *datasetService) Transform(ctx context.Context, id uuid.UUID, name string, ops []models.TransformOp, createdBy string) (*models.Dataset, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: at least one transform op is required", apperrors.ErrBadInput)
	}

	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rows := src.Rows
	for i, op := range ops {
		rows, err = applyTransform(rows, &op)
		if err != nil {
			return nil, fmt.Errorf("%w: op %d (%s): %v", apperrors.ErrBadInput, i, op.Op, err)
		}
	}

	result := normalizeResult(rows, 0)
	d := &models.Dataset{
		QueryID:       src.QueryID,
		Name:          name,
		Rows:          result.Rows,
		Schema:        result.Schema,
		RowCount:      result.RowCount,
		ColumnCount:   result.ColumnCount,
		ByteSize:      payloadSize(result.Rows),
		Parameters:    src.Parameters,
		IsSnapshot:    true,
		SourceDataset: &src.ID,
		TransformOps:  ops,
		CreatedBy:     createdBy,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Dataset transformed",
		zap.String("id", d.ID.String()),
		zap.String("source_id", src.ID.String()),
		zap.Int("ops", len(ops)),
		zap.Int("rows", d.RowCount))
	return d, nil
}

func (s *datasetService) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.repo.DeleteExpired(ctx, time.Now())
			if err != nil {
				s.logger.Warn("Dataset cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("Expired datasets removed", zap.Int64("count", removed))
			}
		}
	}
}

func payloadSize(rows []map[string]any) int {
	raw, err := json.Marshal(rows)
	if err != nil {
		return 0
	}
	return len(raw)
}

// applyTransform runs one transform op over the rows.
func applyTransform(rows []map[string]any, op *models.TransformOp) ([]map[string]any, error) {
	switch op.Op {
	case models.TransformFilter:
		if op.Field == "" || op.Operator == "" {
			return nil, fmt.Errorf("filter requires field and operator")
		}
		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			if matchValue(row[op.Field], op.Operator, op.Value) {
				out = append(out, row)
			}
		}
		return out, nil

	case models.TransformProject:
		if len(op.Fields) == 0 {
			return nil, fmt.Errorf("project requires fields")
		}
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			projected := make(map[string]any, len(op.Fields))
			for _, f := range op.Fields {
				projected[f] = row[f]
			}
			out[i] = projected
		}
		return out, nil

	case models.TransformAggregate:
		return aggregateRows(rows, op)

	case models.TransformDerive:
		if op.Name == "" || op.Expression == "" {
			return nil, fmt.Errorf("derive requires name and expression")
		}
		node, err := expression.Parse(op.Expression)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			derived := make(map[string]any, len(row)+1)
			for k, v := range row {
				derived[k] = v
			}
			value, err := expression.EvaluateRecord(node, row)
			if err != nil {
				return nil, err
			}
			derived[op.Name] = value
			out[i] = derived
		}
		return out, nil
	}

	return nil, fmt.Errorf("unknown op %q", op.Op)
}

// aggregateRows groups rows by op.GroupBy and folds op.On with op.Agg.
// Row order follows first appearance of each group key.
func aggregateRows(rows []map[string]any, op *models.TransformOp) ([]map[string]any, error) {
	if op.GroupBy == "" || op.Agg == "" {
		return nil, fmt.Errorf("aggregate requires group_by and agg")
	}
	if op.Agg != "count" && op.On == "" {
		return nil, fmt.Errorf("aggregate %q requires an on field", op.Agg)
	}

	outField := op.Agg
	if op.On != "" {
		outField = op.Agg + "_" + op.On
	}

	type group struct {
		key    any
		count  int
		sum    float64
		min    float64
		max    float64
		seen   bool
	}
	var order []string
	groups := make(map[string]*group)

	for _, row := range rows {
		key := row[op.GroupBy]
		ks := fmt.Sprintf("%v", key)
		g, ok := groups[ks]
		if !ok {
			g = &group{key: key}
			groups[ks] = g
			order = append(order, ks)
		}

		if op.Agg == "count" {
			g.count++
			continue
		}
		num, ok := numericValue(row[op.On])
		if !ok {
			// Non-numeric values are excluded rather than zero-filled so a
			// stray string cannot skew an average.
			continue
		}
		g.count++
		g.sum += num
		if !g.seen || num < g.min {
			g.min = num
		}
		if !g.seen || num > g.max {
			g.max = num
		}
		g.seen = true
	}

	out := make([]map[string]any, 0, len(order))
	for _, ks := range order {
		g := groups[ks]
		row := map[string]any{op.GroupBy: g.key}
		switch op.Agg {
		case "count":
			row[outField] = float64(g.count)
		case "sum":
			row[outField] = g.sum
		case "avg":
			if g.count == 0 {
				row[outField] = nil
			} else {
				row[outField] = g.sum / float64(g.count)
			}
		case "min":
			if g.seen {
				row[outField] = g.min
			} else {
				row[outField] = nil
			}
		case "max":
			if g.seen {
				row[outField] = g.max
			} else {
				row[outField] = nil
			}
		default:
			return nil, fmt.Errorf("unknown aggregation %q", op.Agg)
		}
		out = append(out, row)
	}
	return out, nil
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// matchValue evaluates one filter comparison. Unknown operators match
// nothing here; the visualization renderer has its own pass-through policy.
func matchValue(value any, operator string, target any) bool {
	switch operator {
	case "eq":
		return looselyEqual(value, target)
	case "neq":
		return !looselyEqual(value, target)
	case "gt", "gte", "lt", "lte":
		a, aok := numericValue(value)
		b, bok := numericValue(target)
		if !aok || !bok {
			return false
		}
		switch operator {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "contains":
		return strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", value)),
			strings.ToLower(fmt.Sprintf("%v", target)))
	case "not_contains":
		return !matchValue(value, "contains", target)
	case "in", "not_in":
		list, ok := target.([]any)
		if !ok {
			return operator == "not_in"
		}
		found := false
		for _, item := range list {
			if looselyEqual(value, item) {
				found = true
				break
			}
		}
		if operator == "in" {
			return found
		}
		return !found
	case "is_null":
		return value == nil
	case "not_null":
		return value != nil
	}
	return false
}

func looselyEqual(a, b any) bool {
	if an, ok := numericValue(a); ok {
		if bn, ok := numericValue(b); ok {
			return an == bn
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

var _ DatasetService = (*datasetService)(nil)
