package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Function-field repository stub; unset methods panic to surface unexpected
// interactions.
type scheduleRepoStub struct {
	getByID         func(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	setNextFire     func(ctx context.Context, id uuid.UUID, at *time.Time) error
	recordRun       func(ctx context.Context, id uuid.UUID, at time.Time, failed bool) error
	createExecution func(ctx context.Context, e *models.ScheduleExecution) error
	updateExecution func(ctx context.Context, e *models.ScheduleExecution) error
}

func (m *scheduleRepoStub) Create(ctx context.Context, s *models.Schedule) error {
	panic("unexpected Create")
}

func (m *scheduleRepoStub) GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	return m.getByID(ctx, id)
}

func (m *scheduleRepoStub) List(ctx context.Context) ([]*models.Schedule, error) {
	panic("unexpected List")
}

func (m *scheduleRepoStub) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	panic("unexpected ListActive")
}

func (m *scheduleRepoStub) Update(ctx context.Context, s *models.Schedule) error {
	panic("unexpected Update")
}

func (m *scheduleRepoStub) Delete(ctx context.Context, id uuid.UUID) error {
	panic("unexpected Delete")
}

func (m *scheduleRepoStub) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	panic("unexpected SetActive")
}

func (m *scheduleRepoStub) SetNextFire(ctx context.Context, id uuid.UUID, at *time.Time) error {
	return m.setNextFire(ctx, id, at)
}

func (m *scheduleRepoStub) RecordRun(ctx context.Context, id uuid.UUID, at time.Time, failed bool) error {
	return m.recordRun(ctx, id, at, failed)
}

func (m *scheduleRepoStub) CreateExecution(ctx context.Context, e *models.ScheduleExecution) error {
	return m.createExecution(ctx, e)
}

func (m *scheduleRepoStub) UpdateExecution(ctx context.Context, e *models.ScheduleExecution) error {
	return m.updateExecution(ctx, e)
}

func (m *scheduleRepoStub) ListExecutions(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.ScheduleExecution, error) {
	panic("unexpected ListExecutions")
}

func (m *scheduleRepoStub) CancelExecution(ctx context.Context, execID uuid.UUID) error {
	panic("unexpected CancelExecution")
}

type stubReports struct {
	execute func(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error)
}

func (s *stubReports) Execute(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error) {
	return s.execute(ctx, id, params)
}

func noopRepoStub(sched *models.Schedule, nextFires *int32) *scheduleRepoStub {
	return &scheduleRepoStub{
		getByID: func(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
			return sched, nil
		},
		setNextFire: func(ctx context.Context, id uuid.UUID, at *time.Time) error {
			atomic.AddInt32(nextFires, 1)
			return nil
		},
		recordRun: func(ctx context.Context, id uuid.UUID, at time.Time, failed bool) error {
			return nil
		},
		createExecution: func(ctx context.Context, e *models.ScheduleExecution) error { return nil },
		updateExecution: func(ctx context.Context, e *models.ScheduleExecution) error { return nil },
	}
}

// A fire that arrives while the previous run is still going must be skipped
// with next_fire_at advanced, and a manual trigger in the same window must be
// rejected.
func TestFireSerializesOverlappingRuns(t *testing.T) {
	sched := &models.Schedule{
		ID:       uuid.New(),
		ReportID: uuid.New(),
		Cron:     "*/5 * * * *",
		Timezone: "UTC",
		Active:   true,
	}

	var nextFires int32
	repo := noopRepoStub(sched, &nextFires)

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	reports := &stubReports{
		execute: func(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
				<-release
			}
			return testArtifact(), nil
		},
	}

	s := New(repo, reports, newTestDelivery(nil), zap.NewNop())

	firstDone := make(chan struct{})
	go func() {
		s.fire(sched.ID)
		close(firstDone)
	}()
	<-started

	// Second fire while the first run is in flight: skip, advance.
	s.fire(sched.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "overlapping fire never executes the report")
	assert.Equal(t, int32(1), atomic.LoadInt32(&nextFires), "skipped fire still advances next_fire_at")

	// Manual trigger collides the same way.
	_, err := s.RunNow(context.Background(), sched.ID)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	<-firstDone
	assert.Equal(t, int32(2), atomic.LoadInt32(&nextFires))

	// Once the run finished, the next fire executes normally.
	s.fire(sched.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFireSkipsInactiveSchedule(t *testing.T) {
	sched := &models.Schedule{ID: uuid.New(), Cron: "*/5 * * * *", Timezone: "UTC"}

	var nextFires int32
	repo := noopRepoStub(sched, &nextFires)
	reports := &stubReports{
		execute: func(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error) {
			t.Fatal("inactive schedule must not execute")
			return nil, nil
		},
	}

	s := New(repo, reports, newTestDelivery(nil), zap.NewNop())
	s.fire(sched.ID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&nextFires))
}

func TestFireOutsideWindowAdvancesWithoutRunning(t *testing.T) {
	end := time.Now().Add(-time.Hour)
	sched := &models.Schedule{
		ID:       uuid.New(),
		Cron:     "*/5 * * * *",
		Timezone: "UTC",
		Active:   true,
		Window:   models.ScheduleWindow{End: &end},
	}

	var nextFires int32
	repo := noopRepoStub(sched, &nextFires)
	reports := &stubReports{
		execute: func(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error) {
			t.Fatal("out-of-window fire must not execute")
			return nil, nil
		},
	}

	s := New(repo, reports, newTestDelivery(nil), zap.NewNop())
	s.fire(sched.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&nextFires))
}

func TestRunNowReleasesRunState(t *testing.T) {
	sched := &models.Schedule{ID: uuid.New(), ReportID: uuid.New(), Cron: "*/5 * * * *", Timezone: "UTC", Active: true}

	var nextFires int32
	repo := noopRepoStub(sched, &nextFires)

	var mu sync.Mutex
	var calls int
	reports := &stubReports{
		execute: func(ctx context.Context, id uuid.UUID, params map[string]any) (*models.Artifact, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return testArtifact(), nil
		},
	}

	s := New(repo, reports, newTestDelivery(nil), zap.NewNop())

	exec, err := s.RunNow(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, exec.State)

	_, err = s.RunNow(context.Background(), sched.ID)
	require.NoError(t, err, "run state is released after completion")

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}
