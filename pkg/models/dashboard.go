package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultRefreshInterval applies to realtime dashboards that do not declare
// their own interval.
const DefaultRefreshInterval = 30 * time.Second

// ItemPosition is a dashboard grid placement. Coordinates are non-negative.
type ItemPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Valid reports whether all coordinates are non-negative and the extent is
// positive.
func (p ItemPosition) Valid() bool {
	return p.X >= 0 && p.Y >= 0 && p.W > 0 && p.H > 0
}

// DashboardItem places a visualization on a dashboard. The visualization
// reference is weak: the visualization may be deleted, in which case
// composition surfaces an item-level error.
type DashboardItem struct {
	ID              uuid.UUID    `json:"id"`
	DashboardID     uuid.UUID    `json:"dashboard_id"`
	VisualizationID uuid.UUID    `json:"visualization_id"`
	Position        ItemPosition `json:"position"`
	Title           string       `json:"title,omitempty"`
	Order           int          `json:"order"`
	IsLocked        bool         `json:"is_locked"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Dashboard owns its items (cascade delete).
type Dashboard struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Layout          map[string]any  `json:"layout,omitempty"`
	Theme           string          `json:"theme,omitempty"`
	RefreshInterval *int            `json:"refresh_interval,omitempty"` // seconds
	IsRealtime      bool            `json:"is_realtime"`
	Items           []DashboardItem `json:"items,omitempty"`
	ViewCount       int64           `json:"view_count"`
	LastViewedAt    *time.Time      `json:"last_viewed_at,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EffectiveRefreshInterval resolves the refresh cadence for realtime viewing.
func (d *Dashboard) EffectiveRefreshInterval() time.Duration {
	if d.RefreshInterval != nil && *d.RefreshInterval > 0 {
		return time.Duration(*d.RefreshInterval) * time.Second
	}
	return DefaultRefreshInterval
}

// ComposedItem is one rendered dashboard item. Exactly one of Payload or
// Error is set: item failures are isolated and never abort siblings.
type ComposedItem struct {
	ID       uuid.UUID     `json:"id"`
	Position ItemPosition  `json:"position"`
	Title    string        `json:"title,omitempty"`
	Order    int           `json:"order"`
	Payload  *VizPayload   `json:"payload,omitempty"`
	Error    *ItemError    `json:"error,omitempty"`
}

// ItemError is the isolated failure surface for a composed item.
type ItemError struct {
	Message string `json:"message"`
}

// ComposedDashboard is the full rendered state of a dashboard.
type ComposedDashboard struct {
	Dashboard DashboardSummary `json:"dashboard"`
	Items     []ComposedItem   `json:"items"`
	Metadata  ComposeMetadata  `json:"metadata"`
}

// DashboardSummary is the dashboard header inside a composed payload.
type DashboardSummary struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Layout          map[string]any `json:"layout,omitempty"`
	Theme           string         `json:"theme,omitempty"`
	RefreshInterval *int           `json:"refresh_interval,omitempty"`
	IsRealtime      bool           `json:"is_realtime"`
}

// ComposeMetadata carries provenance for a composed payload.
type ComposeMetadata struct {
	RenderedAt time.Time `json:"rendered_at"`
	ItemCount  int       `json:"item_count"`
}
