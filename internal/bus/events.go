// Package bus provides an asynchronous event bus for schedule lifecycle
// notifications. Producers (the scheduling orchestrator, the lifecycle
// machine, the SLA sweeper) publish typed events; downstream listeners such
// as the project derivation subscribe to a fanout copy.
//
// All event types support JSON serialization for transport and storage.
package bus

import (
	"time"
)

// EventType classifies a schedule event.
type EventType string

const (
	// EventScheduleCreated fires after a booking commits.
	EventScheduleCreated EventType = "schedule_created"
	// EventScheduleRescheduled fires after a reschedule commits.
	EventScheduleRescheduled EventType = "schedule_rescheduled"
	// EventTransitionApplied fires on every accepted lifecycle transition.
	EventTransitionApplied EventType = "transition_applied"
	// EventInspectionPassed fires when an inspection-category schedule gets
	// an approving final opinion; project derivations consume it.
	EventInspectionPassed EventType = "inspection_passed"
	// EventSLABreached fires from the sweeper when a visit overruns the
	// SLA of its service.
	EventSLABreached EventType = "sla_breached"
)

// Event is a schedule lifecycle notification.
type Event struct {
	Type       EventType      `json:"type"`
	ScheduleID string         `json:"schedule_id"`
	Protocol   string         `json:"protocol,omitempty"`
	AgentID    int64          `json:"agent_id,omitempty"`
	ProjectID  int64          `json:"project_id,omitempty"`
	Category   string         `json:"category,omitempty"`
	Transition string         `json:"transition,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
