package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source/rest"
	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/expression"
	"github.com/pulsehq/pulse-engine/pkg/metrics"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
	pulsesql "github.com/pulsehq/pulse-engine/pkg/sql"
)

// Execution deadlines per query kind.
const (
	sqlDeadline  = 30 * time.Second
	restDeadline = 30 * time.Second
)

// ExecuteOptions tunes a single execution.
type ExecuteOptions struct {
	// SkipCache bypasses the result cache for both read and write.
	SkipCache bool
	// Deadline overrides the kind's default execution deadline when positive.
	Deadline time.Duration
}

// QueryService manages saved queries and executes them against their data
// sources.
type QueryService interface {
	Create(ctx context.Context, q *models.Query) (*models.Query, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Query, error)
	List(ctx context.Context) ([]*models.Query, error)
	Update(ctx context.Context, q *models.Query) (*models.Query, error)

	// Delete removes a query. Blocked while datasets reference it.
	Delete(ctx context.Context, id uuid.UUID) error

	// Execute binds params against the query's declared parameters, consults
	// the result cache, runs the query, and returns a normalized result.
	// Executions cancelled by the caller update neither statistics nor cache.
	Execute(ctx context.Context, id uuid.UUID, params map[string]any, opts ExecuteOptions) (*models.Result, error)
}

type queryService struct {
	repo        repositories.QueryRepository
	datasetRepo repositories.DatasetRepository
	sources     DataSourceService
	restClient  *rest.Client
	cache       *cache.Store
	logger      *zap.Logger
}

// NewQueryService creates the query service.
func NewQueryService(
	repo repositories.QueryRepository,
	datasetRepo repositories.DatasetRepository,
	sources DataSourceService,
	store *cache.Store,
	logger *zap.Logger,
) QueryService {
	return &queryService{
		repo:        repo,
		datasetRepo: datasetRepo,
		sources:     sources,
		restClient:  rest.NewClient(restDeadline),
		cache:       store,
		logger:      logger,
	}
}

func (s *queryService) validate(ctx context.Context, q *models.Query) error {
	if q.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if q.CacheTTL < 0 {
		return fmt.Errorf("%w: cache_ttl must be >= 0", apperrors.ErrBadInput)
	}
	for _, def := range q.ParameterDefs {
		if !models.ParameterNamePattern.MatchString(def.Name) {
			return fmt.Errorf("%w: invalid parameter name %q", apperrors.ErrBadInput, def.Name)
		}
	}

	switch q.Kind {
	case models.QueryKindSQL:
		var def models.SQLDefinition
		if err := json.Unmarshal(q.Definition, &def); err != nil || def.SQL == "" {
			return fmt.Errorf("%w: sql definition requires a sql field", apperrors.ErrBadInput)
		}
		if err := pulsesql.ValidateParameterDefinitions(def.SQL, q.ParameterDefs); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
		}
	case models.QueryKindREST:
		var def models.RESTDefinition
		if err := json.Unmarshal(q.Definition, &def); err != nil || def.URL == "" {
			return fmt.Errorf("%w: rest definition requires a url field", apperrors.ErrBadInput)
		}
	case models.QueryKindExpression:
		def, err := s.expressionDefinition(q)
		if err != nil {
			return err
		}
		if _, err := expression.Parse(def.Expression); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
		}
		if def.SourceQueryID != nil {
			src, err := s.repo.GetByID(ctx, *def.SourceQueryID)
			if err != nil {
				return err
			}
			// One level of indirection only, so chains can never cycle.
			if src.Kind == models.QueryKindExpression {
				return fmt.Errorf("%w: expression queries cannot source other expression queries", apperrors.ErrBadInput)
			}
		}
	case models.QueryKindCustom:
		return fmt.Errorf("%w: custom queries are no longer supported; use the expression kind", apperrors.ErrBadInput)
	default:
		return fmt.Errorf("%w: unknown query kind %q", apperrors.ErrBadInput, q.Kind)
	}

	return nil
}

func (s *queryService) expressionDefinition(q *models.Query) (*models.ExpressionDefinition, error) {
	var def models.ExpressionDefinition
	if err := json.Unmarshal(q.Definition, &def); err != nil || def.Expression == "" {
		return nil, fmt.Errorf("%w: expression definition requires an expression field", apperrors.ErrBadInput)
	}
	if (def.SourceQueryID == nil) == (def.SourceREST == nil) {
		return nil, fmt.Errorf("%w: expression definition requires exactly one of source_query_id or source_rest", apperrors.ErrBadInput)
	}
	return &def, nil
}

func (s *queryService) Create(ctx context.Context, q *models.Query) (*models.Query, error) {
	if err := s.validate(ctx, q); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, q); err != nil {
		return nil, err
	}

	s.logger.Info("Query created",
		zap.String("id", q.ID.String()),
		zap.String("name", q.Name),
		zap.String("kind", q.Kind))
	return q, nil
}

func (s *queryService) Get(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *queryService) List(ctx context.Context) ([]*models.Query, error) {
	return s.repo.List(ctx)
}

func (s *queryService) Update(ctx context.Context, q *models.Query) (*models.Query, error) {
	if err := s.validate(ctx, q); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, q); err != nil {
		return nil, err
	}

	// Any definition change makes every cached result for this query stale.
	s.cache.Invalidate(ctx, cache.KindQuery, q.ID.String())

	s.logger.Info("Query updated", zap.String("id", q.ID.String()))
	return q, nil
}

func (s *queryService) Delete(ctx context.Context, id uuid.UUID) error {
	count, err := s.datasetRepo.CountByQuery(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d datasets still reference this query", apperrors.ErrConflict, count)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindQuery, id.String())
	s.logger.Info("Query deleted", zap.String("id", id.String()))
	return nil
}

func (s *queryService) Execute(ctx context.Context, id uuid.UUID, params map[string]any, opts ExecuteOptions) (*models.Result, error) {
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Kind == models.QueryKindCustom {
		return nil, fmt.Errorf("%w: custom queries are no longer supported", apperrors.ErrBadInput)
	}

	bound, err := BindParameters(q.ParameterDefs, params)
	if err != nil {
		return nil, err
	}

	fingerprint, err := CacheKey(q.ID, bound)
	if err != nil {
		return nil, err
	}
	cacheKey := cache.Key(cache.KindQuery, q.ID.String(), fingerprint)

	useCache := q.CacheEnabled && !opts.SkipCache
	if useCache {
		var cached models.Result
		if s.cache.Get(ctx, cacheKey, &cached) {
			cached.Cached = true
			// A cached serve is still an execution: the count and
			// last_executed_at move, and the stored execution time keeps the
			// running mean on real query cost.
			if err := s.repo.RecordExecution(ctx, q.ID, cached.ExecutionTime, time.Now()); err != nil {
				s.logger.Warn("Failed to record execution stats",
					zap.String("query_id", q.ID.String()), zap.Error(err))
			}
			metrics.QueriesExecutedTotal.WithLabelValues(q.Kind, "cached").Inc()
			return &cached, nil
		}
	}

	start := time.Now()
	rows, err := s.run(ctx, q, bound, opts)
	elapsed := time.Since(start)
	if err != nil {
		metrics.QueriesExecutedTotal.WithLabelValues(q.Kind, "error").Inc()
		return nil, err
	}

	result := normalizeResult(rows, float64(elapsed.Milliseconds()))
	metrics.QueriesExecutedTotal.WithLabelValues(q.Kind, "success").Inc()
	metrics.QueryDuration.WithLabelValues(q.Kind).Observe(elapsed.Seconds())

	// A caller that gave up gets neither a stats bump nor a cache entry.
	if ctx.Err() == nil {
		if err := s.repo.RecordExecution(ctx, q.ID, result.ExecutionTime, time.Now()); err != nil {
			s.logger.Warn("Failed to record execution stats",
				zap.String("query_id", q.ID.String()), zap.Error(err))
		}
		if useCache {
			s.cache.Set(ctx, cacheKey, result, time.Duration(q.CacheTTL)*time.Second)
		}
	}

	return result, nil
}

func (s *queryService) run(ctx context.Context, q *models.Query, bound map[string]any, opts ExecuteOptions) ([]map[string]any, error) {
	switch q.Kind {
	case models.QueryKindSQL:
		return s.runSQL(ctx, q, bound, opts)
	case models.QueryKindREST:
		return s.runREST(ctx, q, bound, opts)
	case models.QueryKindExpression:
		return s.runExpression(ctx, q, bound, opts)
	}
	return nil, fmt.Errorf("%w: unknown query kind %q", apperrors.ErrBadInput, q.Kind)
}

func deadline(opts ExecuteOptions, fallback time.Duration) time.Duration {
	if opts.Deadline > 0 {
		return opts.Deadline
	}
	return fallback
}

func (s *queryService) runSQL(ctx context.Context, q *models.Query, bound map[string]any, opts ExecuteOptions) ([]map[string]any, error) {
	var def models.SQLDefinition
	if err := json.Unmarshal(q.Definition, &def); err != nil {
		return nil, fmt.Errorf("%w: malformed sql definition", apperrors.ErrBadInput)
	}

	ds, config, err := s.sources.DecryptedConfig(ctx, q.DataSourceID)
	if err != nil {
		return nil, err
	}
	if ds.Kind != models.SourceKindSQL {
		return nil, fmt.Errorf("%w: data source %s is not a sql source", apperrors.ErrBadInput, ds.ID)
	}

	dialect, _ := config["dialect"].(string)
	prepared, values, err := pulsesql.SubstituteParameters(def.SQL, pulsesql.PlaceholderStyle(dialect), bound)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}

	runner, err := s.sources.RunnerFor(ctx, ds, config)
	if err != nil {
		return nil, err
	}
	defer runner.Close()

	runCtx, cancel := context.WithTimeout(ctx, deadline(opts, sqlDeadline))
	defer cancel()

	res, err := runner.Run(runCtx, prepared, values, 0)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (s *queryService) runREST(ctx context.Context, q *models.Query, bound map[string]any, opts ExecuteOptions) ([]map[string]any, error) {
	var def models.RESTDefinition
	if err := json.Unmarshal(q.Definition, &def); err != nil {
		return nil, fmt.Errorf("%w: malformed rest definition", apperrors.ErrBadInput)
	}

	// The data source supplies shared connection details: a base URL for
	// relative definitions and default headers (auth tokens live here, not
	// in the saved query).
	if q.DataSourceID != uuid.Nil {
		ds, config, err := s.sources.DecryptedConfig(ctx, q.DataSourceID)
		if err != nil {
			return nil, err
		}
		if ds.Kind != models.SourceKindREST && ds.Kind != models.SourceKindInternalService {
			return nil, fmt.Errorf("%w: data source %s cannot serve rest queries", apperrors.ErrBadInput, ds.ID)
		}
		applySourceDefaults(&def, config)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, deadline(opts, restDeadline))
	defer cancel()

	return s.restClient.Fetch(fetchCtx, &def, bound)
}

// applySourceDefaults folds a rest data source's config into a definition:
// relative URLs are resolved against base_url and source headers fill gaps.
func applySourceDefaults(def *models.RESTDefinition, config map[string]any) {
	if base, ok := config["base_url"].(string); ok && base != "" && !hasScheme(def.URL) {
		def.URL = joinURL(base, def.URL)
	}
	headers, _ := config["headers"].(map[string]any)
	for k, v := range headers {
		value, ok := v.(string)
		if !ok {
			continue
		}
		if _, exists := def.Headers[k]; !exists {
			if def.Headers == nil {
				def.Headers = map[string]string{}
			}
			def.Headers[k] = value
		}
	}
}

func hasScheme(url string) bool {
	for i := 0; i < len(url); i++ {
		switch {
		case url[i] == ':':
			return i > 0 && i+2 < len(url) && url[i+1] == '/' && url[i+2] == '/'
		case url[i] == '/' || url[i] == '?' || url[i] == '#':
			return false
		}
	}
	return false
}

func joinURL(base, path string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}
	return base + path
}

func (s *queryService) runExpression(ctx context.Context, q *models.Query, bound map[string]any, opts ExecuteOptions) ([]map[string]any, error) {
	def, err := s.expressionDefinition(q)
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	switch {
	case def.SourceQueryID != nil:
		src, err := s.repo.GetByID(ctx, *def.SourceQueryID)
		if err != nil {
			return nil, err
		}
		if src.Kind == models.QueryKindExpression {
			return nil, fmt.Errorf("%w: expression queries cannot source other expression queries", apperrors.ErrBadInput)
		}
		result, err := s.Execute(ctx, src.ID, bound, opts)
		if err != nil {
			return nil, fmt.Errorf("source query %s: %w", src.ID, err)
		}
		records = result.Rows

	case def.SourceREST != nil:
		fetchCtx, cancel := context.WithTimeout(ctx, deadline(opts, restDeadline))
		defer cancel()
		records, err = s.restClient.Fetch(fetchCtx, def.SourceREST, bound)
		if err != nil {
			return nil, err
		}
	}

	root := make([]any, len(records))
	for i, rec := range records {
		root[i] = any(rec)
	}

	value, err := expression.Evaluate(def.Expression, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}
	return expressionRecords(value), nil
}

// expressionRecords folds an expression result into row form: record lists
// pass through, scalar lists become value rows, and a lone scalar becomes a
// single-row result.
func expressionRecords(value any) []map[string]any {
	switch v := value.(type) {
	case nil:
		return []map[string]any{}
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				rows = append(rows, rec)
			} else {
				rows = append(rows, map[string]any{"value": item})
			}
		}
		return rows
	case map[string]any:
		return []map[string]any{v}
	default:
		return []map[string]any{{"value": v}}
	}
}

// normalizeResult shapes raw records into a Result: every row carries the
// same key set (missing keys become explicit nulls) and the schema reports
// each column's narrowest type across rows.
func normalizeResult(rows []map[string]any, elapsedMs float64) *models.Result {
	var columns []string
	seen := make(map[string]bool)
	for _, row := range rows {
		for key := range row {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}

	schema := make(map[string]models.ColumnSchema, len(columns))
	for _, col := range columns {
		schema[col] = models.ColumnSchema{Name: col, Type: "unknown"}
	}

	normalized := make([]map[string]any, len(rows))
	for i, row := range rows {
		out := make(map[string]any, len(columns))
		for _, col := range columns {
			v, ok := row[col]
			if !ok {
				v = nil
			}
			out[col] = v

			cs := schema[col]
			if v == nil {
				cs.Nullable = true
			} else {
				cs.Type = mergeColumnType(cs.Type, inferColumnType(v))
			}
			schema[col] = cs
		}
		normalized[i] = out
	}

	return &models.Result{
		Rows:          normalized,
		Schema:        schema,
		RowCount:      len(normalized),
		ColumnCount:   len(columns),
		ExecutionTime: elapsedMs,
	}
}

func inferColumnType(v any) string {
	switch t := v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case bool:
		return "boolean"
	case string:
		if looksLikeDate(t) {
			return "date"
		}
		return "string"
	case time.Time:
		return "date"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}

// mergeColumnType widens a column type when rows disagree. Dates widen to
// strings; anything else mixed-type widens to unknown.
func mergeColumnType(current, next string) string {
	switch {
	case current == "unknown" || current == next:
		return next
	case (current == "date" && next == "string") || (current == "string" && next == "date"):
		return "string"
	}
	return "unknown"
}

func looksLikeDate(s string) bool {
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return true
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	return false
}

var _ QueryService = (*queryService)(nil)
