// Package scheduling orchestrates the booking pipeline: service
// validation, the short-notice rule, the availability verdict, route
// insertion and the locked commit. It is the only writer of schedules; the
// HTTP layer translates its answers onto the wire.
package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/fieldsvc/dispatchd/internal/availability"
	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/calendar"
	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/route"
	"github.com/fieldsvc/dispatchd/internal/store"
	"github.com/fieldsvc/dispatchd/internal/travel"
)

// Publisher emits scheduling events; the event bus satisfies it.
type Publisher interface {
	Publish(event bus.Event) error
}

// Counters are the scheduling instruments; all optional.
type Counters struct {
	Bookings func(outcome string)
}

// Service runs the scheduling pipeline.
type Service struct {
	store    *store.Store
	cal      *calendar.Calendar
	resolver *travel.Resolver
	pub      Publisher
	clk      clock.Clock
	logger   *logger.Logger
	counters Counters

	shortNotice time.Duration
	slots       []interval.Interval
}

// Options carries the configured knobs.
type Options struct {
	ShortNoticeHours int
	TimelineSlots    []interval.Interval
}

func New(st *store.Store, cal *calendar.Calendar, resolver *travel.Resolver, pub Publisher, clk clock.Clock, log *logger.Logger, counters Counters, opts Options) *Service {
	return &Service{
		store:       st,
		cal:         cal,
		resolver:    resolver,
		pub:         pub,
		clk:         clk,
		logger:      log,
		counters:    counters,
		shortNotice: time.Duration(opts.ShortNoticeHours) * time.Hour,
		slots:       opts.TimelineSlots,
	}
}

// QueryRequest asks which agents can take a visit.
type QueryRequest struct {
	ServiceID  int64
	Date       time.Time
	Window     interval.Interval
	NameFilter string
	Customer   *model.Geo
}

// AgentAvailability is one agent's answer in a query result.
type AgentAvailability struct {
	Agent               *model.Agent
	Available           bool
	Blocked             bool
	HasOverlap          bool
	FreeWindows         []interval.Interval
	ScheduleCountOnDate int

	// Insertion cost when a customer address was given; agents whose
	// day cannot absorb the visit sort last.
	InsertionFeasible  bool
	AddedTravelMinutes int
}

// Query lists the agents eligible for a service on a date with their
// availability verdict, ordered by how loaded their day already is and
// then by the travel the insertion would add.
func (s *Service) Query(ctx context.Context, req QueryRequest) ([]AgentAvailability, error) {
	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	agents, err := s.store.AgentsByTag(ctx, svc.Category)
	if err != nil {
		return nil, err
	}
	agents = filterByName(agents, req.NameFilter)

	memo := travel.NewMemo(s.resolver)
	results := make([]AgentAvailability, 0, len(agents))
	for _, agent := range agents {
		entry, err := s.checkAgent(ctx, memo, agent, req)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ScheduleCountOnDate != results[j].ScheduleCountOnDate {
			return results[i].ScheduleCountOnDate < results[j].ScheduleCountOnDate
		}
		if req.Customer != nil && results[i].InsertionFeasible != results[j].InsertionFeasible {
			return results[i].InsertionFeasible
		}
		if req.Customer != nil {
			return results[i].AddedTravelMinutes < results[j].AddedTravelMinutes
		}
		return false
	})
	return results, nil
}

func (s *Service) checkAgent(ctx context.Context, memo *travel.Memo, agent *model.Agent, req QueryRequest) (AgentAvailability, error) {
	day, err := s.readDay(ctx, agent.ID, req.Date)
	if err != nil {
		return AgentAvailability{}, err
	}

	verdict := availability.Check(day.free, day.blocks, day.schedules, req.Window)
	entry := AgentAvailability{
		Agent:               agent,
		Available:           verdict.Available,
		Blocked:             verdict.Blocked,
		HasOverlap:          verdict.HasOverlap,
		FreeWindows:         verdict.FreeWindows,
		ScheduleCountOnDate: len(day.schedules),
	}

	if req.Customer != nil && day.free != nil {
		plan := route.Insert(ctx, memo, day.free.Window, day.schedules, req.Window, req.Customer)
		entry.InsertionFeasible = plan.Feasible
		entry.AddedTravelMinutes = plan.AddedTravelMinutes
	}
	return entry, nil
}

// daySnapshot is one agent's calendar state for a date.
type daySnapshot struct {
	free      *model.FreeWindow
	blocks    []*model.Block
	schedules []*model.Schedule
}

func (s *Service) readDay(ctx context.Context, agentID int64, date time.Time) (daySnapshot, error) {
	free, err := s.cal.FreeWindow(ctx, agentID, interval.DayOfWeek(date))
	if err != nil {
		return daySnapshot{}, err
	}
	blocks, err := s.cal.BlocksOn(ctx, agentID, date)
	if err != nil {
		return daySnapshot{}, err
	}
	schedules, err := s.store.ByAgentDate(ctx, agentID, date)
	if err != nil {
		return daySnapshot{}, err
	}
	return daySnapshot{free: free, blocks: blocks, schedules: schedules}, nil
}

func (s *Service) countBooking(outcome string) {
	if s.counters.Bookings != nil {
		s.counters.Bookings(outcome)
	}
}

func (s *Service) publish(ctx context.Context, event bus.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(event); err != nil {
		s.logger.WarnCtx(ctx, "Failed to publish scheduling event",
			logger.Field{Key: "type", Value: string(event.Type)},
			logger.Field{Key: "schedule_id", Value: event.ScheduleID},
			logger.Field{Key: "error", Value: err.Error()})
	}
}
