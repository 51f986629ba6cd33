// Package model holds the persistent domain entities of the field-services
// scheduler: agents with their weekly calendars, schedules (on-site visits),
// the service catalog and its opinions. Times of day are minute-of-day
// integers (see internal/interval); dates are UTC midnights.
package model

import (
	"time"

	"github.com/fieldsvc/dispatchd/internal/interval"
)

// AgentStatus tracks the field agent's progress on a schedule. The short
// codes are the wire values the mobile clients already speak.
type AgentStatus string

const (
	AgentPending    AgentStatus = "P"
	AgentInProgress AgentStatus = "EA"
	AgentDone       AgentStatus = "C"
	AgentCancelled  AgentStatus = "CA"
)

// Terminal reports whether no further transitions are possible.
func (s AgentStatus) Terminal() bool {
	return s == AgentDone || s == AgentCancelled
}

// DisplayName returns the human-readable label for the status.
func (s AgentStatus) DisplayName() string {
	switch s {
	case AgentPending:
		return "Pending"
	case AgentInProgress:
		return "In Progress"
	case AgentDone:
		return "Done"
	case AgentCancelled:
		return "Cancelled"
	}
	return string(s)
}

// Step is the 1..5 execution stage of a visit.
type Step int

const (
	StepNotStarted  Step = 1
	StepTraveling   Step = 2
	StepTravelDone  Step = 3
	StepServicing   Step = 4
	StepServiceDone Step = 5
)

// DisplayName returns the human-readable label for the step.
func (s Step) DisplayName() string {
	switch s {
	case StepNotStarted:
		return "Not Started"
	case StepTraveling:
		return "Traveling"
	case StepTravelDone:
		return "Travel Done"
	case StepServicing:
		return "Servicing"
	case StepServiceDone:
		return "Service Done"
	}
	return "Unknown"
}

// Capability tags grant callers and agents rights beyond plain membership.
const (
	CapabilityShortNotice = "short-notice"
	CapabilitySupervise   = "supervise"
)

// Agent is a field agent. Tags carry service-category memberships plus
// extra capabilities such as "supervise".
type Agent struct {
	ID        int64
	Name      string
	Tags      []string
	CreatedAt time.Time
	Deleted   bool
}

// HasTag reports whether the agent carries the given capability tag.
func (a *Agent) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Actor is the authenticated principal performing an operation. Agents act
// as themselves; back-office users act with capability grants.
type Actor struct {
	ID           string
	AgentID      int64 // zero when the actor is not a field agent
	Capabilities []string
}

// Can reports whether the actor holds the given capability.
func (a Actor) Can(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// FreeWindow is the weekly working interval of an agent: at most one per
// (agent, day-of-week), day 0 is Monday.
type FreeWindow struct {
	ID        int64
	AgentID   int64
	DayOfWeek int
	Window    interval.Interval
	CreatedAt time.Time
	Deleted   bool
}

// Block is a date-ranged daily exclusion: the Window slice of every date in
// [StartDate, EndDate] is blocked.
type Block struct {
	ID        int64
	AgentID   int64
	StartDate time.Time
	EndDate   time.Time
	Window    interval.Interval
	CreatedAt time.Time
	Deleted   bool
}

// Covers reports whether the block applies on the given date.
func (b *Block) Covers(date time.Time) bool {
	return !date.Before(b.StartDate) && !date.After(b.EndDate)
}

// Geo is a WGS84 coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Address is a visit location. Coordinates are optional; without them the
// travel oracle cannot be queried and the fallback estimate applies.
type Address struct {
	Text string `json:"text"`
	Geo  *Geo   `json:"geo,omitempty"`
}

// Service is a bookable field service. SLAHours, when set, bounds how long
// a visit may stay unfinished past its window before it counts as overdue.
type Service struct {
	ID            int64
	Name          string
	Category      string
	DefaultFormID string
	SLAHours      int // zero means no SLA
	CreatedAt     time.Time
	Deleted       bool
}

// ServiceOpinion is a catalogued outcome annotation for a service.
type ServiceOpinion struct {
	ID           int64
	ServiceID    int64
	Name         string
	Approved     bool
	Exchangeable bool
	Final        bool
	CreatedAt    time.Time
	Deleted      bool
}

// Schedule is a booked on-site visit. AgentID, CustomerID and ProjectID are
// weak references; ParentIDs links follow-up visits to the visits they
// depend on.
type Schedule struct {
	ID       string
	Protocol string

	AgentID    int64 // zero when unassigned
	ServiceID  int64
	CustomerID int64
	ProjectID  int64
	ParentIDs  []string

	Date    time.Time
	Window  interval.Interval
	Address Address

	Status      string
	AgentStatus AgentStatus
	Step        Step
	Observation string

	OpinionID        int64 // zero when unset
	FinalOpinionID   int64
	FinalOpinionUser string

	GoingAt    *time.Time
	ArrivedAt  *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	CreatedAt time.Time
	Deleted   bool
}

// Assigned reports whether the schedule has a field agent.
func (s *Schedule) Assigned() bool { return s.AgentID != 0 }

// Geo returns the visit coordinates, or nil when the address has none.
func (s *Schedule) Geo() *Geo {
	return s.Address.Geo
}
