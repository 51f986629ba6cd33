// Package lifecycle drives a schedule through its visit states: pending,
// traveling, arrived, servicing, done, cancelled. Transitions are
// forward-only, stamp their timestamp exactly once and require the acting
// agent to own the schedule or hold the supervise capability.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// CategoryInspection is the service category whose approved completions
// feed project derivations.
const CategoryInspection = "inspection"

// Store is the persistence surface the machine needs.
type Store interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	SaveLifecycle(ctx context.Context, sched *model.Schedule) error
	GetService(ctx context.Context, id int64) (*model.Service, error)
	GetOpinion(ctx context.Context, id int64) (*model.ServiceOpinion, error)
}

// Publisher emits lifecycle events. The event bus satisfies it.
type Publisher interface {
	Publish(event bus.Event) error
}

// Machine applies lifecycle transitions.
type Machine struct {
	store  Store
	pub    Publisher
	clk    clock.Clock
	logger *logger.Logger
}

func New(store Store, pub Publisher, clk clock.Clock, log *logger.Logger) *Machine {
	return &Machine{store: store, pub: pub, clk: clk, logger: log}
}

// Assign puts an agent on a pending schedule. Actors may self-assign;
// assigning someone else requires supervise.
func (m *Machine) Assign(ctx context.Context, actor model.Actor, id string, agentID int64) (*model.Schedule, error) {
	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.AgentStatus != model.AgentPending {
		return nil, fault.IllegalTransition(sched.AgentStatus.DisplayName(), "assign")
	}
	if actor.AgentID != agentID && !actor.Can(model.CapabilitySupervise) {
		return nil, fault.New(fault.KindForbidden, "actor %s may not assign agent %d", actor.ID, agentID)
	}

	sched.AgentID = agentID
	if err := m.store.SaveLifecycle(ctx, sched); err != nil {
		return nil, err
	}
	m.emitTransition(ctx, sched, "assign")
	return sched, nil
}

// MarkTraveling starts the visit: the agent is on the way.
func (m *Machine) MarkTraveling(ctx context.Context, actor model.Actor, id string) (*model.Schedule, error) {
	return m.transition(ctx, actor, id, "markTraveling",
		func(s *model.Schedule) error {
			if s.AgentStatus != model.AgentPending || !s.Assigned() {
				return fault.IllegalTransition(describe(s), "markTraveling")
			}
			s.AgentStatus = model.AgentInProgress
			s.Step = model.StepTraveling
			stampOnce(&s.GoingAt, m.clk.Now())
			return nil
		})
}

// MarkArrived records arrival at the visit address.
func (m *Machine) MarkArrived(ctx context.Context, actor model.Actor, id string) (*model.Schedule, error) {
	return m.transition(ctx, actor, id, "markArrived",
		func(s *model.Schedule) error {
			if s.AgentStatus != model.AgentInProgress || s.Step != model.StepTraveling {
				return fault.IllegalTransition(describe(s), "markArrived")
			}
			s.Step = model.StepTravelDone
			stampOnce(&s.ArrivedAt, m.clk.Now())
			return nil
		})
}

// StartService begins the work at the address.
func (m *Machine) StartService(ctx context.Context, actor model.Actor, id string) (*model.Schedule, error) {
	return m.transition(ctx, actor, id, "startService",
		func(s *model.Schedule) error {
			if s.AgentStatus != model.AgentInProgress || s.Step != model.StepTravelDone {
				return fault.IllegalTransition(describe(s), "startService")
			}
			s.Step = model.StepServicing
			stampOnce(&s.StartedAt, m.clk.Now())
			return nil
		})
}

// FinishService completes the visit with a final opinion. When the service
// is an inspection and the opinion reads as approved, an inspection-passed
// event is emitted for the schedule's project.
func (m *Machine) FinishService(ctx context.Context, actor model.Actor, id string, opinionID int64) (*model.Schedule, error) {
	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(actor, sched); err != nil {
		return nil, err
	}
	if sched.AgentStatus != model.AgentInProgress || sched.Step != model.StepServicing {
		return nil, fault.IllegalTransition(describe(sched), "finishService")
	}

	opinion, err := m.store.GetOpinion(ctx, opinionID)
	if err != nil {
		return nil, err
	}
	if err := m.setFinalOpinion(ctx, sched, opinion, actor); err != nil {
		return nil, err
	}

	sched.AgentStatus = model.AgentDone
	sched.Step = model.StepServiceDone
	stampOnce(&sched.FinishedAt, m.clk.Now())

	if err := m.store.SaveLifecycle(ctx, sched); err != nil {
		return nil, err
	}
	m.emitTransition(ctx, sched, "finishService")
	m.emitInspectionPassed(ctx, sched, opinion)
	return sched, nil
}

// Cancel aborts a schedule from any non-terminal state.
func (m *Machine) Cancel(ctx context.Context, actor model.Actor, id string) (*model.Schedule, error) {
	return m.transition(ctx, actor, id, "cancel",
		func(s *model.Schedule) error {
			if s.AgentStatus.Terminal() {
				return fault.IllegalTransition(describe(s), "cancel")
			}
			s.AgentStatus = model.AgentCancelled
			return nil
		})
}

// ExchangeFinalOpinion replaces the final opinion on a completed schedule.
// Allowed only while the prior opinion is exchangeable.
func (m *Machine) ExchangeFinalOpinion(ctx context.Context, actor model.Actor, id string, opinionID int64) (*model.Schedule, error) {
	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(actor, sched); err != nil {
		return nil, err
	}

	opinion, err := m.store.GetOpinion(ctx, opinionID)
	if err != nil {
		return nil, err
	}
	if err := m.setFinalOpinion(ctx, sched, opinion, actor); err != nil {
		return nil, err
	}
	if err := m.store.SaveLifecycle(ctx, sched); err != nil {
		return nil, err
	}
	m.emitTransition(ctx, sched, "exchangeFinalOpinion")
	m.emitInspectionPassed(ctx, sched, opinion)
	return sched, nil
}

func (m *Machine) transition(ctx context.Context, actor model.Actor, id, name string, apply func(*model.Schedule) error) (*model.Schedule, error) {
	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(actor, sched); err != nil {
		return nil, err
	}
	if err := apply(sched); err != nil {
		return nil, err
	}
	if err := m.store.SaveLifecycle(ctx, sched); err != nil {
		return nil, err
	}
	m.emitTransition(ctx, sched, name)
	return sched, nil
}

func (m *Machine) authorize(actor model.Actor, sched *model.Schedule) error {
	if actor.Can(model.CapabilitySupervise) {
		return nil
	}
	if sched.Assigned() && actor.AgentID == sched.AgentID {
		return nil
	}
	return fault.New(fault.KindForbidden, "actor %s may not act on schedule %s", actor.ID, sched.ID)
}

// setFinalOpinion enforces the exchange rule: a set opinion may only be
// replaced while it is exchangeable. The first set records who set it.
func (m *Machine) setFinalOpinion(ctx context.Context, sched *model.Schedule, opinion *model.ServiceOpinion, actor model.Actor) error {
	if opinion.ServiceID != sched.ServiceID {
		return fault.New(fault.KindConflict, "opinion %d belongs to service %d, schedule has %d",
			opinion.ID, opinion.ServiceID, sched.ServiceID)
	}
	if sched.FinalOpinionID != 0 && sched.FinalOpinionID != opinion.ID {
		prior, err := m.store.GetOpinion(ctx, sched.FinalOpinionID)
		if err != nil {
			return err
		}
		if !prior.Exchangeable {
			return fault.New(fault.KindForbidden, "final opinion %q is not exchangeable", prior.Name)
		}
	}
	sched.FinalOpinionID = opinion.ID
	sched.FinalOpinionUser = actor.ID
	return nil
}

func (m *Machine) emitTransition(ctx context.Context, sched *model.Schedule, name string) {
	if m.pub == nil {
		return
	}
	err := m.pub.Publish(bus.Event{
		Type:       bus.EventTransitionApplied,
		ScheduleID: sched.ID,
		Protocol:   sched.Protocol,
		AgentID:    sched.AgentID,
		ProjectID:  sched.ProjectID,
		Transition: name,
		Timestamp:  m.clk.Now(),
	})
	if err != nil {
		m.logger.WarnCtx(ctx, "Failed to publish transition event",
			logger.Field{Key: "schedule_id", Value: sched.ID},
			logger.Field{Key: "transition", Value: name},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

// emitInspectionPassed publishes the derivation trigger: an inspection
// completed with an approved final opinion.
func (m *Machine) emitInspectionPassed(ctx context.Context, sched *model.Schedule, opinion *model.ServiceOpinion) {
	if m.pub == nil || sched.ProjectID == 0 {
		return
	}
	svc, err := m.store.GetService(ctx, sched.ServiceID)
	if err != nil {
		m.logger.WarnCtx(ctx, "Failed to load service for inspection check",
			logger.Field{Key: "service_id", Value: sched.ServiceID},
			logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if !strings.EqualFold(svc.Category, CategoryInspection) || !ApprovedOpinion(opinion) {
		return
	}
	err = m.pub.Publish(bus.Event{
		Type:       bus.EventInspectionPassed,
		ScheduleID: sched.ID,
		Protocol:   sched.Protocol,
		AgentID:    sched.AgentID,
		ProjectID:  sched.ProjectID,
		Category:   svc.Category,
		Timestamp:  m.clk.Now(),
	})
	if err != nil {
		m.logger.WarnCtx(ctx, "Failed to publish inspection-passed event",
			logger.Field{Key: "schedule_id", Value: sched.ID},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

// ApprovedOpinion reports whether a final opinion counts as approval.
func ApprovedOpinion(opinion *model.ServiceOpinion) bool {
	return opinion != nil && strings.Contains(strings.ToLower(opinion.Name), "approved")
}

func stampOnce(field **time.Time, now time.Time) {
	if *field == nil {
		t := now.UTC()
		*field = &t
	}
}

func describe(s *model.Schedule) string {
	return fmt.Sprintf("%s/%s", s.AgentStatus.DisplayName(), s.Step.DisplayName())
}
