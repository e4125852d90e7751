package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Hand-written function-field mocks. Only the methods a test sets are ever
// called; the rest panic to surface unexpected interactions.

type mockDashboardRepo struct {
	getByID    func(ctx context.Context, id uuid.UUID) (*models.Dashboard, error)
	create     func(ctx context.Context, d *models.Dashboard) error
	addItem    func(ctx context.Context, item *models.DashboardItem) error
	recordView func(ctx context.Context, id uuid.UUID, at time.Time) error
}

func (m *mockDashboardRepo) Create(ctx context.Context, d *models.Dashboard) error {
	return m.create(ctx, d)
}

func (m *mockDashboardRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	return m.getByID(ctx, id)
}

func (m *mockDashboardRepo) List(ctx context.Context) ([]*models.Dashboard, error) {
	panic("unexpected List")
}

func (m *mockDashboardRepo) Update(ctx context.Context, d *models.Dashboard) error {
	panic("unexpected Update")
}

func (m *mockDashboardRepo) Delete(ctx context.Context, id uuid.UUID) error {
	panic("unexpected Delete")
}

func (m *mockDashboardRepo) AddItem(ctx context.Context, item *models.DashboardItem) error {
	return m.addItem(ctx, item)
}

func (m *mockDashboardRepo) UpdateItem(ctx context.Context, item *models.DashboardItem) error {
	panic("unexpected UpdateItem")
}

func (m *mockDashboardRepo) DeleteItem(ctx context.Context, dashboardID, itemID uuid.UUID) error {
	panic("unexpected DeleteItem")
}

func (m *mockDashboardRepo) UpdateItemPositions(ctx context.Context, dashboardID uuid.UUID, positions map[uuid.UUID]models.ItemPosition) error {
	panic("unexpected UpdateItemPositions")
}

func (m *mockDashboardRepo) RecordView(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.recordView == nil {
		return nil
	}
	return m.recordView(ctx, id, at)
}

func (m *mockDashboardRepo) ListIDsByVisualization(ctx context.Context, visualizationID uuid.UUID) ([]uuid.UUID, error) {
	panic("unexpected ListIDsByVisualization")
}

type mockVizService struct {
	get    func(ctx context.Context, id uuid.UUID) (*models.Visualization, error)
	render func(ctx context.Context, id uuid.UUID, opts RenderOptions) (*models.VizPayload, error)
}

func (m *mockVizService) Create(ctx context.Context, v *models.Visualization) (*models.Visualization, error) {
	panic("unexpected Create")
}

func (m *mockVizService) Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	return m.get(ctx, id)
}

func (m *mockVizService) List(ctx context.Context) ([]*models.Visualization, error) {
	panic("unexpected List")
}

func (m *mockVizService) Update(ctx context.Context, v *models.Visualization) (*models.Visualization, error) {
	panic("unexpected Update")
}

func (m *mockVizService) Delete(ctx context.Context, id uuid.UUID) error {
	panic("unexpected Delete")
}

func (m *mockVizService) Render(ctx context.Context, id uuid.UUID, opts RenderOptions) (*models.VizPayload, error) {
	return m.render(ctx, id, opts)
}

func (m *mockVizService) SetNotifier(n ChangeNotifier) {
	panic("unexpected SetNotifier")
}

type mockQueryRepo struct {
	getByID         func(ctx context.Context, id uuid.UUID) (*models.Query, error)
	recordExecution func(ctx context.Context, id uuid.UUID, durationMs float64, at time.Time) error
}

func (m *mockQueryRepo) Create(ctx context.Context, q *models.Query) error {
	panic("unexpected Create")
}

func (m *mockQueryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	return m.getByID(ctx, id)
}

func (m *mockQueryRepo) List(ctx context.Context) ([]*models.Query, error) {
	panic("unexpected List")
}

func (m *mockQueryRepo) Update(ctx context.Context, q *models.Query) error {
	panic("unexpected Update")
}

func (m *mockQueryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	panic("unexpected Delete")
}

func (m *mockQueryRepo) RecordExecution(ctx context.Context, id uuid.UUID, durationMs float64, at time.Time) error {
	return m.recordExecution(ctx, id, durationMs, at)
}

func (m *mockQueryRepo) CountByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int, error) {
	panic("unexpected CountByDataSource")
}

type mockVizRepo struct {
	update        func(ctx context.Context, v *models.Visualization) error
	delete        func(ctx context.Context, id uuid.UUID) error
	listByDataset func(ctx context.Context, datasetID uuid.UUID) ([]*models.Visualization, error)
}

func (m *mockVizRepo) Create(ctx context.Context, v *models.Visualization) error {
	panic("unexpected Create")
}

func (m *mockVizRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	panic("unexpected GetByID")
}

func (m *mockVizRepo) List(ctx context.Context) ([]*models.Visualization, error) {
	panic("unexpected List")
}

func (m *mockVizRepo) Update(ctx context.Context, v *models.Visualization) error {
	return m.update(ctx, v)
}

func (m *mockVizRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.delete(ctx, id)
}

func (m *mockVizRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*models.Visualization, error) {
	return m.listByDataset(ctx, datasetID)
}

type mockDatasetRepo struct {
	getByID func(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	delete  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockDatasetRepo) Create(ctx context.Context, d *models.Dataset) error {
	panic("unexpected Create")
}

func (m *mockDatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	return m.getByID(ctx, id)
}

func (m *mockDatasetRepo) List(ctx context.Context) ([]*models.Dataset, error) {
	panic("unexpected List")
}

func (m *mockDatasetRepo) UpdateData(ctx context.Context, d *models.Dataset) error {
	panic("unexpected UpdateData")
}

func (m *mockDatasetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.delete(ctx, id)
}

func (m *mockDatasetRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	panic("unexpected DeleteExpired")
}

func (m *mockDatasetRepo) CountByQuery(ctx context.Context, queryID uuid.UUID) (int, error) {
	panic("unexpected CountByQuery")
}

type mockDatasetService struct {
	get func(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
}

func (m *mockDatasetService) Create(ctx context.Context, req *CreateDatasetRequest) (*models.Dataset, error) {
	panic("unexpected Create")
}

func (m *mockDatasetService) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	return m.get(ctx, id)
}

func (m *mockDatasetService) List(ctx context.Context) ([]*models.Dataset, error) {
	panic("unexpected List")
}

func (m *mockDatasetService) Fetch(ctx context.Context, id uuid.UUID, autoRefresh bool) (*models.Dataset, error) {
	panic("unexpected Fetch")
}

func (m *mockDatasetService) Refresh(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	panic("unexpected Refresh")
}

func (m *mockDatasetService) Delete(ctx context.Context, id uuid.UUID) error {
	panic("unexpected Delete")
}

func (m *mockDatasetService) Transform(ctx context.Context, id uuid.UUID, name string, ops []models.TransformOp, createdBy string) (*models.Dataset, error) {
	panic("unexpected Transform")
}

func (m *mockDatasetService) CleanupLoop(ctx context.Context, interval time.Duration) {
	panic("unexpected CleanupLoop")
}

func (m *mockDatasetService) SetNotifier(n ChangeNotifier) {
	panic("unexpected SetNotifier")
}

// mockNotifier records which visualizations triggered a realtime push.
type mockNotifier struct {
	notified []uuid.UUID
}

func (m *mockNotifier) NotifyVisualizationChanged(ctx context.Context, visualizationID uuid.UUID) {
	m.notified = append(m.notified, visualizationID)
}

type mockScheduleRepo struct {
	create          func(ctx context.Context, s *models.Schedule) error
	getByID         func(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	update          func(ctx context.Context, s *models.Schedule) error
	delete          func(ctx context.Context, id uuid.UUID) error
	setActive       func(ctx context.Context, id uuid.UUID, active bool) error
	listExecutions  func(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.ScheduleExecution, error)
	cancelExecution func(ctx context.Context, execID uuid.UUID) error
}

func (m *mockScheduleRepo) Create(ctx context.Context, s *models.Schedule) error {
	return m.create(ctx, s)
}

func (m *mockScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	return m.getByID(ctx, id)
}

func (m *mockScheduleRepo) List(ctx context.Context) ([]*models.Schedule, error) {
	panic("unexpected List")
}

func (m *mockScheduleRepo) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	panic("unexpected ListActive")
}

func (m *mockScheduleRepo) Update(ctx context.Context, s *models.Schedule) error {
	return m.update(ctx, s)
}

func (m *mockScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.delete(ctx, id)
}

func (m *mockScheduleRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return m.setActive(ctx, id, active)
}

func (m *mockScheduleRepo) SetNextFire(ctx context.Context, id uuid.UUID, at *time.Time) error {
	panic("unexpected SetNextFire")
}

func (m *mockScheduleRepo) RecordRun(ctx context.Context, id uuid.UUID, at time.Time, failed bool) error {
	panic("unexpected RecordRun")
}

func (m *mockScheduleRepo) CreateExecution(ctx context.Context, e *models.ScheduleExecution) error {
	panic("unexpected CreateExecution")
}

func (m *mockScheduleRepo) UpdateExecution(ctx context.Context, e *models.ScheduleExecution) error {
	panic("unexpected UpdateExecution")
}

func (m *mockScheduleRepo) ListExecutions(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*models.ScheduleExecution, error) {
	return m.listExecutions(ctx, scheduleID, limit)
}

func (m *mockScheduleRepo) CancelExecution(ctx context.Context, execID uuid.UUID) error {
	return m.cancelExecution(ctx, execID)
}

type mockRegistrar struct {
	registered   []uuid.UUID
	unregistered []uuid.UUID
}

func (m *mockRegistrar) Register(s *models.Schedule) error {
	m.registered = append(m.registered, s.ID)
	return nil
}

func (m *mockRegistrar) Unregister(id uuid.UUID) {
	m.unregistered = append(m.unregistered, id)
}
