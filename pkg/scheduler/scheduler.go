package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/metrics"
	"github.com/pulsehq/pulse-engine/pkg/models"
	"github.com/pulsehq/pulse-engine/pkg/repositories"
)

// ReportExecutor produces an artifact from a saved report.
type ReportExecutor interface {
	Execute(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error)
}

// runDeadline bounds one full run: report execution plus delivery fan-out.
const runDeadline = 5 * time.Minute

// ErrRunInProgress reports a manual trigger colliding with an active run.
var ErrRunInProgress = errors.New("a run for this schedule is already in progress")

// Scheduler registers active schedules with an in-process cron manager and
// runs them at each fire. Fires for the same schedule are serialized: a fire
// that arrives while the previous run is still going is skipped and
// next_fire_at advances.
type Scheduler struct {
	repo     repositories.ScheduleRepository
	reports  ReportExecutor
	delivery *Delivery
	logger   *zap.Logger

	cron *cron.Cron

	// mu guards the entry table; run state is tracked per schedule so
	// overlap detection never blocks other schedules.
	mu      sync.Mutex
	entries map[uuid.UUID]cron.EntryID
	running map[uuid.UUID]bool
}

// New creates the scheduler. Start must be called before any schedule fires.
func New(
	repo repositories.ScheduleRepository,
	reports ReportExecutor,
	delivery *Delivery,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		repo:     repo,
		reports:  reports,
		delivery: delivery,
		logger:   logger,
		cron:     cron.New(cron.WithParser(cronParser)),
		entries:  make(map[uuid.UUID]cron.EntryID),
		running:  make(map[uuid.UUID]bool),
	}
}

// Start registers every active schedule and starts the cron manager.
func (s *Scheduler) Start(ctx context.Context) error {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, sched := range active {
		if err := s.Register(sched); err != nil {
			s.logger.Warn("Failed to register schedule at startup",
				zap.String("schedule_id", sched.ID.String()), zap.Error(err))
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("schedules", len(active)))
	return nil
}

// StopAll halts the cron manager and waits for in-flight runs to finish.
// Shutdown ordering: the broadcaster stops first, then the scheduler.
func (s *Scheduler) StopAll() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Register adds or replaces a schedule's cron entry.
func (s *Scheduler) Register(sched *models.Schedule) error {
	spec, err := ParseSpec(sched.Cron, sched.Timezone)
	if err != nil {
		return err
	}

	id := sched.ID
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
	}
	s.entries[id] = s.cron.Schedule(spec, cron.FuncJob(func() {
		s.fire(id)
	}))
	return nil
}

// Unregister removes a schedule's cron entry if present.
func (s *Scheduler) Unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire handles one cron trigger for a schedule.
func (s *Scheduler) fire(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), runDeadline)
	defer cancel()

	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("Fired schedule no longer loads",
			zap.String("schedule_id", id.String()), zap.Error(err))
		return
	}
	if !sched.Active {
		return
	}

	now := time.Now()
	if outsideWindow(&sched.Window, now) {
		s.logger.Info("Schedule fire outside its window, skipping",
			zap.String("schedule_id", id.String()))
		s.advanceNextFire(ctx, sched, now)
		return
	}

	s.mu.Lock()
	if s.running[id] {
		s.mu.Unlock()
		s.logger.Warn("Previous run still in progress, skipping fire",
			zap.String("schedule_id", id.String()))
		metrics.ScheduleExecutionTotal.WithLabelValues("skipped").Inc()
		s.advanceNextFire(ctx, sched, now)
		return
	}
	s.running[id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	s.Run(ctx, sched)
	s.advanceNextFire(ctx, sched, time.Now())
}

// RunNow triggers a schedule outside its cron cadence, with the same overlap
// protection as a timed fire.
func (s *Scheduler) RunNow(ctx context.Context, id uuid.UUID) (*models.ScheduleExecution, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.running[id] {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running[id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	return s.Run(ctx, sched), nil
}

// Run executes one schedule end to end and returns its execution record.
func (s *Scheduler) Run(ctx context.Context, sched *models.Schedule) *models.ScheduleExecution {
	start := time.Now()
	exec := &models.ScheduleExecution{
		ScheduleID: sched.ID,
		State:      models.ExecutionPending,
		StartedAt:  start,
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("Failed to create execution record",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
		return exec
	}

	exec.State = models.ExecutionRunning
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		s.logger.Warn("Failed to mark execution running",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
	}

	artifact, err := s.reports.Execute(ctx, sched.ReportID, sched.Parameters)
	if err != nil {
		s.finishExecution(ctx, sched, exec, start, err.Error())
		return exec
	}

	exec.Delivery = s.delivery.Deliver(ctx, sched.Channels, artifact)

	failureMsg := ""
	for key, outcome := range exec.Delivery {
		if !outcome.Success {
			failureMsg = "delivery failed: " + key
			break
		}
	}
	s.finishExecution(ctx, sched, exec, start, failureMsg)
	return exec
}

func (s *Scheduler) finishExecution(ctx context.Context, sched *models.Schedule, exec *models.ScheduleExecution, start time.Time, errMsg string) {
	completed := time.Now()
	exec.CompletedAt = &completed
	exec.DurationMs = completed.Sub(start).Milliseconds()
	exec.Error = errMsg
	if errMsg == "" {
		exec.State = models.ExecutionSuccess
	} else {
		exec.State = models.ExecutionFailed
	}

	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		s.logger.Error("Failed to finalize execution record",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
	}
	if err := s.repo.RecordRun(ctx, sched.ID, completed, exec.State == models.ExecutionFailed); err != nil {
		s.logger.Warn("Failed to record run statistics",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
	}

	metrics.ScheduleExecutionTotal.WithLabelValues(exec.State).Inc()
	s.logger.Info("Schedule run finished",
		zap.String("schedule_id", sched.ID.String()),
		zap.String("state", exec.State),
		zap.Int64("duration_ms", exec.DurationMs))
}

func (s *Scheduler) advanceNextFire(ctx context.Context, sched *models.Schedule, after time.Time) {
	next, err := NextFire(sched.Cron, sched.Timezone, after)
	if err != nil {
		s.logger.Warn("Failed to compute next fire",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
		return
	}
	if err := s.repo.SetNextFire(ctx, sched.ID, &next); err != nil {
		s.logger.Warn("Failed to persist next fire",
			zap.String("schedule_id", sched.ID.String()), zap.Error(err))
	}
}

func outsideWindow(w *models.ScheduleWindow, now time.Time) bool {
	if w.Start != nil && now.Before(*w.Start) {
		return true
	}
	if w.End != nil && now.After(*w.End) {
		return true
	}
	return false
}
