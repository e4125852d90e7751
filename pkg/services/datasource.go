package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/crypto"
	"github.com/pulsehq/pulse-engine/pkg/logging"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
)

// probeDeadline is the fixed wall clock for connectivity probes.
const probeDeadline = 5 * time.Second

// DataSourceService manages data source registration, probing, and discovery.
// Connection configs are encrypted at rest and sanitized in every return
// value; only query execution sees decrypted credentials.
type DataSourceService interface {
	Create(ctx context.Context, ds *models.DataSource) (*models.DataSource, error)
	Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error)
	List(ctx context.Context) ([]*models.DataSource, error)
	Update(ctx context.Context, ds *models.DataSource) (*models.DataSource, error)

	// Delete removes a data source. Blocked while queries reference it.
	Delete(ctx context.Context, id uuid.UUID) error

	// Probe checks connectivity with a fixed 5 s deadline. Failures are
	// values, not errors: the returned ProbeResult carries the failure kind.
	Probe(ctx context.Context, id uuid.UUID) (*models.ProbeResult, error)

	// Discover snapshots the source's table metadata into the metadata field.
	Discover(ctx context.Context, id uuid.UUID) (map[string]any, error)

	// RunnerFor opens a SQL runner for a sql-kind source. The caller owns
	// the runner and must close it.
	RunnerFor(ctx context.Context, ds *models.DataSource, config map[string]any) (source.Runner, error)

	// DecryptedConfig returns the connection config with credentials intact.
	// For query execution only; never expose through the API.
	DecryptedConfig(ctx context.Context, id uuid.UUID) (*models.DataSource, map[string]any, error)
}

type dataSourceService struct {
	repo      repositories.DataSourceRepository
	queryRepo repositories.QueryRepository
	encryptor *crypto.CredentialEncryptor
	logger    *zap.Logger
}

// NewDataSourceService creates the data source service.
func NewDataSourceService(
	repo repositories.DataSourceRepository,
	queryRepo repositories.QueryRepository,
	encryptor *crypto.CredentialEncryptor,
	logger *zap.Logger,
) DataSourceService {
	return &dataSourceService{
		repo:      repo,
		queryRepo: queryRepo,
		encryptor: encryptor,
		logger:    logger,
	}
}

// adapterType maps a data source to its registered adapter type.
func adapterType(ds *models.DataSource, config map[string]any) string {
	switch ds.Kind {
	case models.SourceKindSQL:
		if dialect, ok := config["dialect"].(string); ok && dialect == models.DialectSQLServer {
			return "sqlserver"
		}
		return "postgres"
	case models.SourceKindREST:
		return "rest"
	case models.SourceKindInternalService:
		return "internal_service"
	}
	return ""
}

func validateDataSource(ds *models.DataSource) error {
	if ds.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if !models.ValidSourceKind(ds.Kind) {
		return fmt.Errorf("%w: unknown source kind %q", apperrors.ErrBadInput, ds.Kind)
	}
	if ds.Kind == models.SourceKindSQL {
		dialect, _ := ds.Config["dialect"].(string)
		if dialect != "" && dialect != models.DialectPostgres && dialect != models.DialectSQLServer {
			return fmt.Errorf("%w: unknown sql dialect %q", apperrors.ErrBadInput, dialect)
		}
	}
	return nil
}

func (s *dataSourceService) encryptConfig(config map[string]any) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	encrypted, err := s.encryptor.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt config: %w", err)
	}
	return encrypted, nil
}

func (s *dataSourceService) decryptConfig(encrypted string) (map[string]any, error) {
	if encrypted == "" {
		return map[string]any{}, nil
	}
	raw, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt config: %w", err)
	}
	var config map[string]any
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return config, nil
}

func (s *dataSourceService) Create(ctx context.Context, ds *models.DataSource) (*models.DataSource, error) {
	if err := validateDataSource(ds); err != nil {
		return nil, err
	}

	encrypted, err := s.encryptConfig(ds.Config)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, ds, encrypted); err != nil {
		return nil, err
	}

	s.logger.Info("Data source created",
		zap.String("id", ds.ID.String()),
		zap.String("name", ds.Name),
		zap.String("kind", ds.Kind))

	ds.Config = logging.SanitizeConfig(ds.Config)
	return ds, nil
}

func (s *dataSourceService) Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	config, err := s.decryptConfig(encrypted)
	if err != nil {
		return nil, err
	}
	ds.Config = logging.SanitizeConfig(config)
	return ds, nil
}

func (s *dataSourceService) List(ctx context.Context) ([]*models.DataSource, error) {
	sources, configs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	for i, ds := range sources {
		config, err := s.decryptConfig(configs[i])
		if err != nil {
			return nil, err
		}
		ds.Config = logging.SanitizeConfig(config)
	}
	return sources, nil
}

func (s *dataSourceService) Update(ctx context.Context, ds *models.DataSource) (*models.DataSource, error) {
	if err := validateDataSource(ds); err != nil {
		return nil, err
	}

	// Preserve existing credentials when the update carries a sanitized
	// config: redacted fields are replaced from the stored value.
	_, existingEncrypted, err := s.repo.GetByID(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	existing, err := s.decryptConfig(existingEncrypted)
	if err != nil {
		return nil, err
	}
	merged := logging.MergeRedactedConfig(ds.Config, existing)

	encrypted, err := s.encryptConfig(merged)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, ds, encrypted); err != nil {
		return nil, err
	}

	s.logger.Info("Data source updated", zap.String("id", ds.ID.String()))
	ds.Config = logging.SanitizeConfig(merged)
	return ds, nil
}

func (s *dataSourceService) Delete(ctx context.Context, id uuid.UUID) error {
	count, err := s.queryRepo.CountByDataSource(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d queries still reference this data source", apperrors.ErrConflict, count)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Data source deleted", zap.String("id", id.String()))
	return nil
}

func (s *dataSourceService) Probe(ctx context.Context, id uuid.UUID) (*models.ProbeResult, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	config, err := s.decryptConfig(encrypted)
	if err != nil {
		return nil, err
	}

	result := s.probe(ctx, ds, config)

	status := "ok"
	if !result.OK {
		status = result.Kind
	}
	if err := s.repo.UpdateProbeState(ctx, id, status, time.Now()); err != nil {
		s.logger.Warn("Failed to persist probe state", zap.String("id", id.String()), zap.Error(err))
	}

	return result, nil
}

// probe runs the adapter probe under the fixed deadline and folds any error
// into a ProbeResult value.
func (s *dataSourceService) probe(ctx context.Context, ds *models.DataSource, config map[string]any) *models.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	factory := source.GetProberFactory(adapterType(ds, config))
	if factory == nil {
		return &models.ProbeResult{
			OK:      false,
			Kind:    models.ProbeFailureUnsupported,
			Message: fmt.Sprintf("no adapter for kind %q", ds.Kind),
		}
	}

	prober, err := factory(probeCtx, config)
	if err != nil {
		return probeFailure(err)
	}
	defer prober.Close()

	result, err := prober.Probe(probeCtx)
	if err != nil {
		return probeFailure(err)
	}
	return result
}

// probeFailure classifies a probe error into its failure kind.
func probeFailure(err error) *models.ProbeResult {
	kind := models.ProbeFailureNetwork
	switch {
	case errors.Is(err, apperrors.ErrSourceTimeout) || errors.Is(err, context.DeadlineExceeded):
		kind = models.ProbeFailureTimeout
	case errors.Is(err, apperrors.ErrSourceRejected):
		kind = models.ProbeFailureAuth
	case errors.Is(err, apperrors.ErrSourceUnavailable):
		kind = models.ProbeFailureNetwork
	}
	return &models.ProbeResult{
		OK:      false,
		Kind:    kind,
		Message: logging.SanitizeError(err),
	}
}

func (s *dataSourceService) Discover(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	config, err := s.decryptConfig(encrypted)
	if err != nil {
		return nil, err
	}

	if ds.Kind != models.SourceKindSQL {
		return nil, fmt.Errorf("%w: discovery is only supported for sql sources", apperrors.ErrBadInput)
	}

	runner, err := s.RunnerFor(ctx, ds, config)
	if err != nil {
		return nil, err
	}
	defer runner.Close()

	tables, err := runner.Discover(ctx)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"discovered_at": time.Now().UTC().Format(time.RFC3339),
		"table_count":   len(tables),
		"tables":        tables,
	}
	if err := s.repo.UpdateMetadata(ctx, id, metadata); err != nil {
		return nil, err
	}

	s.logger.Info("Data source discovered",
		zap.String("id", id.String()),
		zap.Int("tables", len(tables)))
	return metadata, nil
}

func (s *dataSourceService) RunnerFor(ctx context.Context, ds *models.DataSource, config map[string]any) (source.Runner, error) {
	factory := source.GetRunnerFactory(adapterType(ds, config))
	if factory == nil {
		return nil, fmt.Errorf("%w: data source kind %q does not execute SQL", apperrors.ErrBadInput, ds.Kind)
	}
	return factory(ctx, config)
}

func (s *dataSourceService) DecryptedConfig(ctx context.Context, id uuid.UUID) (*models.DataSource, map[string]any, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	config, err := s.decryptConfig(encrypted)
	if err != nil {
		return nil, nil, err
	}
	return ds, config, nil
}

var _ DataSourceService = (*dataSourceService)(nil)
