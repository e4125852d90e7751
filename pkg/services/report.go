package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
)

// Report output formats.
const (
	ReportFormatJSON = "json"
	ReportFormatCSV  = "csv"
)

// ReportService manages saved reports and produces artifacts from them.
type ReportService interface {
	Create(ctx context.Context, rep *models.Report) (*models.Report, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Report, error)
	List(ctx context.Context) ([]*models.Report, error)
	Update(ctx context.Context, rep *models.Report) (*models.Report, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Execute runs the report's query and formats the result. Parameters
	// supplied here override the report's stored parameters per key.
	Execute(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error)
}

type reportService struct {
	repo    repositories.ReportRepository
	queries QueryService
	cache   *cache.Store
	logger  *zap.Logger
}

// NewReportService creates the report service.
func NewReportService(
	repo repositories.ReportRepository,
	queries QueryService,
	store *cache.Store,
	logger *zap.Logger,
) ReportService {
	return &reportService{
		repo:    repo,
		queries: queries,
		cache:   store,
		logger:  logger,
	}
}

func validateReport(rep *models.Report) error {
	if rep.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if rep.Format != ReportFormatJSON && rep.Format != ReportFormatCSV {
		return fmt.Errorf("%w: unknown report format %q", apperrors.ErrBadInput, rep.Format)
	}
	return nil
}

func (s *reportService) Create(ctx context.Context, rep *models.Report) (*models.Report, error) {
	if err := validateReport(rep); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, err
	}

	s.logger.Info("Report created",
		zap.String("id", rep.ID.String()),
		zap.String("name", rep.Name),
		zap.String("format", rep.Format))
	return rep, nil
}

func (s *reportService) Get(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *reportService) List(ctx context.Context) ([]*models.Report, error) {
	return s.repo.List(ctx)
}

func (s *reportService) Update(ctx context.Context, rep *models.Report) (*models.Report, error) {
	if err := validateReport(rep); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rep); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.KindReport, rep.ID.String())
	s.logger.Info("Report updated", zap.String("id", rep.ID.String()))
	return rep, nil
}

func (s *reportService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, cache.KindReport, id.String())
	s.logger.Info("Report deleted", zap.String("id", id.String()))
	return nil
}

func (s *reportService) Execute(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error) {
	rep, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(rep.Parameters)+len(params))
	for k, v := range rep.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	result, err := s.queries.Execute(ctx, rep.QueryID, merged, ExecuteOptions{})
	if err != nil {
		return nil, err
	}

	content, contentType, err := formatArtifact(rep.Format, result)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Report executed",
		zap.String("id", rep.ID.String()),
		zap.Int("rows", result.RowCount),
		zap.String("format", rep.Format))

	return &models.Artifact{
		ReportID:    rep.ID,
		Name:        rep.Name,
		Format:      rep.Format,
		ContentType: contentType,
		Content:     content,
		RowCount:    result.RowCount,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func formatArtifact(format string, result *models.Result) ([]byte, string, error) {
	switch format {
	case ReportFormatJSON:
		content, err := json.Marshal(map[string]any{
			"rows":      result.Rows,
			"schema":    result.Schema,
			"row_count": result.RowCount,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode report: %w", err)
		}
		return content, "application/json", nil

	case ReportFormatCSV:
		content, err := encodeCSV(result)
		if err != nil {
			return nil, "", err
		}
		return content, "text/csv", nil
	}
	return nil, "", fmt.Errorf("%w: unknown report format %q", apperrors.ErrBadInput, format)
}

func encodeCSV(result *models.Result) ([]byte, error) {
	columns := make([]string, 0, len(result.Schema))
	for name := range result.Schema {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range result.Rows {
		for i, col := range columns {
			record[i] = csvCell(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

var _ ReportService = (*reportService)(nil)
