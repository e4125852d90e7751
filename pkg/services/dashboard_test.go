package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/cache"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

func disabledCache() *cache.Store {
	return cache.NewStore(nil, nil, zap.NewNop())
}

func TestComposeIsolatesItemFailures(t *testing.T) {
	dashID := uuid.New()
	goodViz := uuid.New()
	badViz := uuid.New()

	repo := &mockDashboardRepo{
		getByID: func(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
			return &models.Dashboard{
				ID:   dashID,
				Name: "Ops overview",
				Items: []models.DashboardItem{
					{ID: uuid.New(), VisualizationID: goodViz, Title: "Revenue", Order: 0},
					{ID: uuid.New(), VisualizationID: badViz, Title: "Broken", Order: 1},
				},
			}, nil
		},
	}
	viz := &mockVizService{
		render: func(ctx context.Context, id uuid.UUID, opts RenderOptions) (*models.VizPayload, error) {
			if id == badViz {
				return nil, fmt.Errorf("dataset has expired")
			}
			return &models.VizPayload{Data: "payload"}, nil
		},
	}

	svc := &dashboardService{
		repo:           repo,
		visualizations: viz,
		cache:          disabledCache(),
		logger:         zap.NewNop(),
	}

	composed, err := svc.Compose(context.Background(), dashID, ComposeOptions{SkipViewTracking: true})
	require.NoError(t, err, "one broken item must not fail the dashboard")
	require.Len(t, composed.Items, 2)

	assert.NotNil(t, composed.Items[0].Payload)
	assert.Nil(t, composed.Items[0].Error)

	assert.Nil(t, composed.Items[1].Payload)
	require.NotNil(t, composed.Items[1].Error)
	assert.Contains(t, composed.Items[1].Error.Message, "expired")

	assert.Equal(t, "Ops overview", composed.Dashboard.Name)
	assert.Equal(t, 2, composed.Metadata.ItemCount)
	assert.False(t, composed.Metadata.RenderedAt.IsZero())
}

func TestComposeRecordsView(t *testing.T) {
	dashID := uuid.New()
	viewed := 0

	repo := &mockDashboardRepo{
		getByID: func(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
			return &models.Dashboard{ID: dashID}, nil
		},
		recordView: func(ctx context.Context, id uuid.UUID, at time.Time) error {
			viewed++
			return nil
		},
	}

	svc := &dashboardService{
		repo:   repo,
		cache:  disabledCache(),
		logger: zap.NewNop(),
	}

	_, err := svc.Compose(context.Background(), dashID, ComposeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, viewed)

	_, err = svc.Compose(context.Background(), dashID, ComposeOptions{SkipViewTracking: true})
	require.NoError(t, err)
	assert.Equal(t, 1, viewed, "machine-driven compositions do not count as views")
}

func TestCloneCopiesItems(t *testing.T) {
	srcID := uuid.New()
	vizID := uuid.New()

	var created []*models.Dashboard
	repo := &mockDashboardRepo{
		getByID: func(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
			return &models.Dashboard{
				ID:    srcID,
				Name:  "Sales",
				Theme: "dark",
				Items: []models.DashboardItem{
					{ID: uuid.New(), DashboardID: srcID, VisualizationID: vizID,
						Position: models.ItemPosition{W: 4, H: 3}, Title: "Total", Order: 0},
				},
			}, nil
		},
		create: func(ctx context.Context, d *models.Dashboard) error {
			d.ID = uuid.New()
			created = append(created, d)
			return nil
		},
		addItem: func(ctx context.Context, item *models.DashboardItem) error {
			item.ID = uuid.New()
			return nil
		},
	}

	svc := &dashboardService{
		repo:   repo,
		cache:  disabledCache(),
		logger: zap.NewNop(),
	}

	clone, err := svc.Clone(context.Background(), srcID, "", "user-1")
	require.NoError(t, err)

	assert.Equal(t, "Sales (copy)", clone.Name, "empty name defaults to source name with suffix")
	assert.Equal(t, "dark", clone.Theme)
	assert.NotEqual(t, srcID, clone.ID)
	require.Len(t, clone.Items, 1)
	assert.Equal(t, clone.ID, clone.Items[0].DashboardID)
	assert.Equal(t, vizID, clone.Items[0].VisualizationID)
}

func TestAddItemRejectsInvalidPosition(t *testing.T) {
	svc := &dashboardService{cache: disabledCache(), logger: zap.NewNop()}

	_, err := svc.AddItem(context.Background(), &models.DashboardItem{
		Position: models.ItemPosition{X: -1, W: 2, H: 2},
	})
	assert.Error(t, err)

	_, err = svc.AddItem(context.Background(), &models.DashboardItem{
		Position: models.ItemPosition{W: 0, H: 2},
	})
	assert.Error(t, err, "zero extent is invalid")
}
