package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

func validScheduleFixture() models.Schedule {
	return models.Schedule{
		ReportID: uuid.New(),
		Name:     "weekly revenue",
		Cron:     "0 8 * * 1",
		Timezone: "Europe/Berlin",
		Format:   models.FormatJSON,
		Channels: []models.DeliveryChannel{
			{Type: models.ChannelEmail, Config: map[string]any{"recipients": []any{"ops@example.com"}}},
		},
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *models.Schedule)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(s *models.Schedule) {},
		},
		{
			name:    "name required",
			mutate:  func(s *models.Schedule) { s.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "bad cron expression",
			mutate:  func(s *models.Schedule) { s.Cron = "every tuesday" },
			wantErr: "",
		},
		{
			name:    "bad timezone",
			mutate:  func(s *models.Schedule) { s.Timezone = "Mars/Olympus" },
			wantErr: "",
		},
		{
			name:    "unknown format",
			mutate:  func(s *models.Schedule) { s.Format = "xlsx" },
			wantErr: "unknown format",
		},
		{
			name:    "no delivery channels",
			mutate:  func(s *models.Schedule) { s.Channels = nil },
			wantErr: "delivery channel",
		},
		{
			name: "unknown channel type",
			mutate: func(s *models.Schedule) {
				s.Channels = []models.DeliveryChannel{{Type: "carrier-pigeon"}}
			},
			wantErr: "channel type",
		},
		{
			name: "window ends before it starts",
			mutate: func(s *models.Schedule) {
				start := time.Now()
				end := start.Add(-time.Hour)
				s.Window = models.ScheduleWindow{Start: &start, End: &end}
			},
			wantErr: "window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := validScheduleFixture()
			tt.mutate(&sched)

			err := validateSchedule(&sched)
			if tt.name == "valid" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestScheduleCreateComputesNextFireAndRegisters(t *testing.T) {
	repo := &mockScheduleRepo{
		create: func(ctx context.Context, s *models.Schedule) error {
			s.ID = uuid.New()
			return nil
		},
	}
	registrar := &mockRegistrar{}
	svc := NewScheduleService(repo, registrar, zap.NewNop())

	sched := validScheduleFixture()
	sched.Active = true

	created, err := svc.Create(context.Background(), &sched)
	require.NoError(t, err)

	require.NotNil(t, created.NextFireAt)
	assert.True(t, created.NextFireAt.After(time.Now()))
	assert.Equal(t, []uuid.UUID{created.ID}, registrar.registered)
}

func TestScheduleCreateInactiveSkipsRegistration(t *testing.T) {
	repo := &mockScheduleRepo{
		create: func(ctx context.Context, s *models.Schedule) error { return nil },
	}
	registrar := &mockRegistrar{}
	svc := NewScheduleService(repo, registrar, zap.NewNop())

	sched := validScheduleFixture()

	_, err := svc.Create(context.Background(), &sched)
	require.NoError(t, err)
	assert.Empty(t, registrar.registered)
}

func TestScheduleUpdateUnregistersWhenInactive(t *testing.T) {
	id := uuid.New()
	repo := &mockScheduleRepo{
		update: func(ctx context.Context, s *models.Schedule) error { return nil },
	}
	registrar := &mockRegistrar{}
	svc := NewScheduleService(repo, registrar, zap.NewNop())

	sched := validScheduleFixture()
	sched.ID = id
	sched.Active = false

	_, err := svc.Update(context.Background(), &sched)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, registrar.unregistered)
}

func TestScheduleSetActive(t *testing.T) {
	id := uuid.New()
	stored := validScheduleFixture()
	stored.ID = id

	repo := &mockScheduleRepo{
		setActive: func(ctx context.Context, sid uuid.UUID, active bool) error {
			stored.Active = active
			return nil
		},
		getByID: func(ctx context.Context, sid uuid.UUID) (*models.Schedule, error) {
			return &stored, nil
		},
	}
	registrar := &mockRegistrar{}
	svc := NewScheduleService(repo, registrar, zap.NewNop())

	_, err := svc.SetActive(context.Background(), id, true)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, registrar.registered)

	_, err = svc.SetActive(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, registrar.unregistered)
}

func TestScheduleExecutionsChecksScheduleExists(t *testing.T) {
	repo := &mockScheduleRepo{
		getByID: func(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
			return nil, apperrors.ErrNotFound
		},
	}
	svc := NewScheduleService(repo, &mockRegistrar{}, zap.NewNop())

	_, err := svc.Executions(context.Background(), uuid.New(), 50)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
