package models

import (
	"time"

	"github.com/google/uuid"
)

// Report output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Delivery channel types.
const (
	ChannelEmail       = "email"
	ChannelWebhook     = "webhook"
	ChannelObjectStore = "object-store"
)

// DeliveryChannel is one configured destination for a scheduled report.
type DeliveryChannel struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"` // recipients, url, bucket, ...
}

// ScheduleWindow optionally bounds when a schedule is allowed to fire.
type ScheduleWindow struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ScheduleStats tracks run statistics for a schedule.
type ScheduleStats struct {
	RunCount     int64      `json:"run_count"`
	FailureCount int64      `json:"failure_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}

// Schedule is a cron-driven report run with delivery fan-out.
type Schedule struct {
	ID         uuid.UUID         `json:"id"`
	ReportID   uuid.UUID         `json:"report_id"`
	Name       string            `json:"name"`
	Cron       string            `json:"cron"`
	Timezone   string            `json:"timezone"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Format     string            `json:"format"`
	Channels   []DeliveryChannel `json:"delivery_channels"`
	Window     ScheduleWindow    `json:"window"`
	Active     bool              `json:"active"`
	NextFireAt *time.Time        `json:"next_fire_at,omitempty"`
	Stats      ScheduleStats     `json:"stats"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Execution states. Only pending may transition to cancelled.
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionSuccess   = "success"
	ExecutionFailed    = "failed"
	ExecutionCancelled = "cancelled"
)

// TerminalExecutionState reports whether state ends an execution's lifecycle.
func TerminalExecutionState(state string) bool {
	switch state {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// DeliveryOutcome records one channel's result within an execution.
type DeliveryOutcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ScheduleExecution is an append-only run record. Terminal states always
// carry CompletedAt.
type ScheduleExecution struct {
	ID          uuid.UUID                  `json:"id"`
	ScheduleID  uuid.UUID                  `json:"schedule_id"`
	State       string                     `json:"state"`
	StartedAt   time.Time                  `json:"started_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
	DurationMs  int64                      `json:"duration_ms"`
	Error       string                     `json:"error,omitempty"`
	Delivery    map[string]DeliveryOutcome `json:"delivery,omitempty"`
}
