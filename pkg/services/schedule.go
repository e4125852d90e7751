package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
	"github.com/pulsehq/pulse-engine/pkg/scheduler"
)

// ScheduleRegistrar is the cron manager surface the schedule service drives.
// Implemented by the scheduler.
type ScheduleRegistrar interface {
	Register(s *models.Schedule) error
	Unregister(id uuid.UUID)
}

// ScheduleService manages report schedules and keeps the cron manager in
// sync with their lifecycle.
type ScheduleService interface {
	Create(ctx context.Context, s *models.Schedule) (*models.Schedule, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)
	Update(ctx context.Context, s *models.Schedule) (*models.Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SetActive toggles a schedule and registers or removes its cron entry.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.Schedule, error)

	// Executions lists the most recent runs for a schedule.
	Executions(ctx context.Context, id uuid.UUID, limit int) ([]*models.ScheduleExecution, error)

	// CancelExecution cancels a pending run. Running and finished runs cannot
	// be cancelled.
	CancelExecution(ctx context.Context, execID uuid.UUID) error
}

type scheduleService struct {
	repo      repositories.ScheduleRepository
	registrar ScheduleRegistrar
	logger    *zap.Logger
}

// NewScheduleService creates the schedule service.
func NewScheduleService(
	repo repositories.ScheduleRepository,
	registrar ScheduleRegistrar,
	logger *zap.Logger,
) ScheduleService {
	return &scheduleService{
		repo:      repo,
		registrar: registrar,
		logger:    logger,
	}
}

func validateSchedule(s *models.Schedule) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrBadInput)
	}
	if _, err := scheduler.ParseSpec(s.Cron, s.Timezone); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}
	if s.Format != models.FormatJSON && s.Format != models.FormatCSV {
		return fmt.Errorf("%w: unknown format %q", apperrors.ErrBadInput, s.Format)
	}
	if len(s.Channels) == 0 {
		return fmt.Errorf("%w: at least one delivery channel is required", apperrors.ErrBadInput)
	}
	for _, ch := range s.Channels {
		switch ch.Type {
		case models.ChannelEmail, models.ChannelWebhook, models.ChannelObjectStore:
		default:
			return fmt.Errorf("%w: unknown delivery channel type %q", apperrors.ErrBadInput, ch.Type)
		}
	}
	if s.Window.Start != nil && s.Window.End != nil && s.Window.End.Before(*s.Window.Start) {
		return fmt.Errorf("%w: schedule window ends before it starts", apperrors.ErrBadInput)
	}
	return nil
}

func (s *scheduleService) Create(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	if err := validateSchedule(sched); err != nil {
		return nil, err
	}

	next, err := scheduler.NextFire(sched.Cron, sched.Timezone, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}
	sched.NextFireAt = &next

	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, err
	}

	if sched.Active {
		if err := s.registrar.Register(sched); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Schedule created",
		zap.String("id", sched.ID.String()),
		zap.String("cron", sched.Cron),
		zap.Time("next_fire_at", next))
	return sched, nil
}

func (s *scheduleService) Get(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *scheduleService) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.repo.List(ctx)
}

func (s *scheduleService) Update(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	if err := validateSchedule(sched); err != nil {
		return nil, err
	}

	next, err := scheduler.NextFire(sched.Cron, sched.Timezone, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}
	sched.NextFireAt = &next

	if err := s.repo.Update(ctx, sched); err != nil {
		return nil, err
	}

	if sched.Active {
		if err := s.registrar.Register(sched); err != nil {
			return nil, err
		}
	} else {
		s.registrar.Unregister(sched.ID)
	}

	s.logger.Info("Schedule updated", zap.String("id", sched.ID.String()))
	return sched, nil
}

func (s *scheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.registrar.Unregister(id)
	s.logger.Info("Schedule deleted", zap.String("id", id.String()))
	return nil
}

func (s *scheduleService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.Schedule, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}

	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if active {
		if err := s.registrar.Register(sched); err != nil {
			return nil, err
		}
	} else {
		s.registrar.Unregister(id)
	}

	s.logger.Info("Schedule toggled",
		zap.String("id", id.String()),
		zap.Bool("active", active))
	return sched, nil
}

func (s *scheduleService) Executions(ctx context.Context, id uuid.UUID, limit int) ([]*models.ScheduleExecution, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListExecutions(ctx, id, limit)
}

func (s *scheduleService) CancelExecution(ctx context.Context, execID uuid.UUID) error {
	if err := s.repo.CancelExecution(ctx, execID); err != nil {
		return err
	}
	s.logger.Info("Execution cancelled", zap.String("execution_id", execID.String()))
	return nil
}

var _ ScheduleService = (*scheduleService)(nil)
