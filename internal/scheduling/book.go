package scheduling

import (
	"context"
	"time"

	"github.com/fieldsvc/dispatchd/internal/availability"
	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/route"
	"github.com/fieldsvc/dispatchd/internal/travel"
)

// BookRequest creates a schedule. Agent may be zero for an unassigned
// booking, which skips the availability pipeline until assignment.
type BookRequest struct {
	Actor       model.Actor
	ServiceID   int64
	AgentID     int64
	CustomerID  int64
	ProjectID   int64
	ParentIDs   []string
	Date        time.Time
	Window      interval.Interval
	Address     model.Address
	Observation string
}

// Book runs the pipeline and commits the schedule under the (agent, date)
// bucket lock. On a lost race the bucket is re-read once and the fresh
// gaps are returned with the Overlap fault.
func (s *Service) Book(ctx context.Context, req BookRequest) (*model.Schedule, error) {
	sched, err := s.book(ctx, req)
	if err != nil {
		s.countBooking(string(fault.KindOf(err)))
		return nil, err
	}
	s.countBooking("created")
	return sched, nil
}

func (s *Service) book(ctx context.Context, req BookRequest) (*model.Schedule, error) {
	if _, err := interval.New(req.Window.Start, req.Window.End); err != nil {
		return nil, fault.New(fault.KindInvalidInterval, "%v", err)
	}
	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	if err := s.checkShortNotice(req.Actor, req.Date, req.Window); err != nil {
		return nil, err
	}

	sched := &model.Schedule{
		AgentID:     req.AgentID,
		ServiceID:   svc.ID,
		CustomerID:  req.CustomerID,
		ProjectID:   req.ProjectID,
		ParentIDs:   req.ParentIDs,
		Date:        req.Date,
		Window:      req.Window,
		Address:     req.Address,
		AgentStatus: model.AgentPending,
		Step:        model.StepNotStarted,
		Observation: req.Observation,
	}

	if !sched.Assigned() {
		// Nothing to check against without an agent; commit directly.
		if err := s.store.CreateSchedule(ctx, sched); err != nil {
			return nil, err
		}
		s.emitCreated(ctx, sched, svc)
		return sched, nil
	}

	memo := travel.NewMemo(s.resolver)
	if err := s.checkPlacement(ctx, memo, sched); err != nil {
		return nil, err
	}

	// Travel estimates are behind us; only the commit runs under the
	// bucket lock.
	unlock := s.store.Buckets().Lock(sched.AgentID, sched.Date)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, fault.New(fault.KindTimeout, "deadline elapsed before commit")
	}

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, s.refreshOverlap(ctx, err, sched.AgentID, sched.Date)
	}

	s.cal.Invalidate(sched.AgentID)
	s.emitCreated(ctx, sched, svc)
	return sched, nil
}

// Reschedule moves a schedule to a new agent, date, window or address,
// re-running the pipeline with the schedule itself excluded from overlap
// checks. Terminal schedules cannot move.
func (s *Service) Reschedule(ctx context.Context, actor model.Actor, id string, req RescheduleRequest) (*model.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.AgentStatus.Terminal() {
		return nil, fault.New(fault.KindForbidden, "schedule %s is %s", id, sched.AgentStatus.DisplayName())
	}
	if err := s.authorize(actor, sched); err != nil {
		return nil, err
	}

	req.applyTo(sched)
	if _, err := interval.New(sched.Window.Start, sched.Window.End); err != nil {
		return nil, fault.New(fault.KindInvalidInterval, "%v", err)
	}
	if err := s.checkShortNotice(actor, sched.Date, sched.Window); err != nil {
		return nil, err
	}

	if sched.Assigned() {
		memo := travel.NewMemo(s.resolver)
		if err := s.checkPlacement(ctx, memo, sched); err != nil {
			return nil, err
		}

		unlock := s.store.Buckets().Lock(sched.AgentID, sched.Date)
		defer unlock()

		if err := ctx.Err(); err != nil {
			return nil, fault.New(fault.KindTimeout, "deadline elapsed before commit")
		}
		if err := s.store.UpdateScheduleSlot(ctx, sched); err != nil {
			return nil, s.refreshOverlap(ctx, err, sched.AgentID, sched.Date)
		}
	} else if err := s.store.UpdateScheduleSlot(ctx, sched); err != nil {
		return nil, err
	}

	s.cal.Invalidate(sched.AgentID)
	s.publish(ctx, bus.Event{
		Type:       bus.EventScheduleRescheduled,
		ScheduleID: sched.ID,
		Protocol:   sched.Protocol,
		AgentID:    sched.AgentID,
		ProjectID:  sched.ProjectID,
		Timestamp:  s.clk.Now(),
	})
	return sched, nil
}

// RescheduleRequest carries the fields to change; nil means keep.
type RescheduleRequest struct {
	AgentID *int64
	Date    *time.Time
	Window  *interval.Interval
	Address *model.Address
}

func (r RescheduleRequest) applyTo(sched *model.Schedule) {
	if r.AgentID != nil {
		sched.AgentID = *r.AgentID
	}
	if r.Date != nil {
		sched.Date = *r.Date
	}
	if r.Window != nil {
		sched.Window = *r.Window
	}
	if r.Address != nil {
		sched.Address = *r.Address
	}
}

// Cancel aborts and soft-deletes a schedule. Completed visits cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id string) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched.AgentStatus == model.AgentDone {
		return fault.New(fault.KindForbidden, "schedule %s is already done", id)
	}
	if err := s.authorize(actor, sched); err != nil {
		return err
	}

	sched.AgentStatus = model.AgentCancelled
	if err := s.store.SaveLifecycle(ctx, sched); err != nil {
		return err
	}
	if err := s.store.SoftDeleteSchedule(ctx, id); err != nil {
		return err
	}

	if sched.Assigned() {
		s.cal.Invalidate(sched.AgentID)
	}
	s.publish(ctx, bus.Event{
		Type:       bus.EventTransitionApplied,
		ScheduleID: sched.ID,
		Protocol:   sched.Protocol,
		AgentID:    sched.AgentID,
		ProjectID:  sched.ProjectID,
		Transition: "cancel",
		Timestamp:  s.clk.Now(),
	})
	return nil
}

// UpdateObservation replaces the free-text note on a schedule.
func (s *Service) UpdateObservation(ctx context.Context, actor model.Actor, id, observation string) (*model.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, sched); err != nil {
		return nil, err
	}
	sched.Observation = observation
	if err := s.store.SaveLifecycle(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// checkPlacement runs the availability verdict and the route plan for an
// assigned schedule, excluding the schedule itself from the day's visits.
func (s *Service) checkPlacement(ctx context.Context, memo *travel.Memo, sched *model.Schedule) error {
	day, err := s.readDay(ctx, sched.AgentID, sched.Date)
	if err != nil {
		return err
	}
	day.schedules = excludeSchedule(day.schedules, sched.ID)

	verdict := availability.Check(day.free, day.blocks, day.schedules, sched.Window)
	if !verdict.Available {
		f := fault.New(fault.Kind(verdict.Reason), "agent %d not available on %s at %s",
			sched.AgentID, sched.Date.Format(interval.DateLayout), sched.Window)
		f.FreeWindows = verdict.FreeWindows
		return f
	}

	plan := route.Insert(ctx, memo, day.free.Window, day.schedules, sched.Window, sched.Geo())
	if !plan.Feasible {
		f := fault.New(fault.KindNoInsertion, "travel leaves no room for %s on %s",
			sched.Window, sched.Date.Format(interval.DateLayout))
		f.CandidateWindows = plan.CandidateWindows
		return f
	}
	return nil
}

// refreshOverlap turns a lost commit race into an Overlap fault carrying
// the bucket's fresh gaps. Other errors pass through.
func (s *Service) refreshOverlap(ctx context.Context, err error, agentID int64, date time.Time) error {
	f := fault.As(err)
	if f == nil || f.Kind != fault.KindOverlap {
		return err
	}

	day, readErr := s.readDay(ctx, agentID, date)
	if readErr != nil || day.free == nil {
		return err
	}
	busy := make([]interval.Interval, 0, len(day.blocks)+len(day.schedules))
	for _, b := range day.blocks {
		busy = append(busy, b.Window)
	}
	for _, x := range day.schedules {
		busy = append(busy, x.Window)
	}
	f.FreeWindows = interval.Gaps(day.free.Window, busy)
	return f
}

func (s *Service) checkShortNotice(actor model.Actor, date time.Time, win interval.Interval) error {
	if s.shortNotice <= 0 || actor.Can(model.CapabilityShortNotice) {
		return nil
	}
	visitStart := time.Date(date.Year(), date.Month(), date.Day(), 0, win.Start, 0, 0, time.UTC)
	if visitStart.Sub(s.clk.Now()) < s.shortNotice {
		return fault.New(fault.KindForbidden, "booking within the %s short-notice horizon requires the %s capability",
			s.shortNotice, model.CapabilityShortNotice)
	}
	return nil
}

func (s *Service) authorize(actor model.Actor, sched *model.Schedule) error {
	if actor.Can(model.CapabilitySupervise) {
		return nil
	}
	if sched.Assigned() && actor.AgentID == sched.AgentID {
		return nil
	}
	return fault.New(fault.KindForbidden, "actor %s may not modify schedule %s", actor.ID, sched.ID)
}

func (s *Service) emitCreated(ctx context.Context, sched *model.Schedule, svc *model.Service) {
	s.publish(ctx, bus.Event{
		Type:       bus.EventScheduleCreated,
		ScheduleID: sched.ID,
		Protocol:   sched.Protocol,
		AgentID:    sched.AgentID,
		ProjectID:  sched.ProjectID,
		Category:   svc.Category,
		Timestamp:  s.clk.Now(),
	})
}

func excludeSchedule(schedules []*model.Schedule, id string) []*model.Schedule {
	out := schedules[:0:0]
	for _, sched := range schedules {
		if sched.ID != id {
			out = append(out, sched)
		}
	}
	return out
}
