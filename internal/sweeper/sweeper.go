// Package sweeper runs the periodic SLA watchdog. On every tick it scans
// unfinished schedules and publishes a breach event for each visit that
// overran the SLA of its service. Breaches are reported once per schedule
// per process lifetime.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// Store is the subset of the persistence layer the sweeper reads.
type Store interface {
	UnfinishedBefore(ctx context.Context, date time.Time) ([]*model.Schedule, error)
	GetService(ctx context.Context, id int64) (*model.Service, error)
}

// Publisher delivers breach events.
type Publisher interface {
	Publish(event bus.Event) error
}

// Counter counts reported breaches.
type Counter interface {
	Inc()
}

// Sweeper is the periodic SLA scanner.
type Sweeper struct {
	store    Store
	pub      Publisher
	clk      clock.Clock
	logger   *logger.Logger
	breaches Counter
	schedule string

	cron    *cron.Cron
	entryID cron.EntryID
	started bool

	mu       sync.Mutex
	reported map[string]bool
}

// New creates a sweeper that scans on the given cron schedule
// (standard 5-field expression or a descriptor like "@every 5m").
func New(st Store, pub Publisher, clk clock.Clock, log *logger.Logger, breaches Counter, schedule string) *Sweeper {
	return &Sweeper{
		store:    st,
		pub:      pub,
		clk:      clk,
		logger:   log,
		breaches: breaches,
		schedule: schedule,
		cron:     cron.New(),
		reported: make(map[string]bool),
	}
}

// Start registers the scan job and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("sweeper already started")
	}

	id, err := s.cron.AddFunc(s.schedule, func() {
		if n, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorCtx(ctx, "SLA sweep failed", err)
		} else if n > 0 {
			s.logger.WarnCtx(ctx, "SLA sweep found breaches", logger.Field{Key: "count", Value: n})
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule SLA sweep: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.started = true

	s.logger.Info("SLA sweeper started", logger.Field{Key: "schedule", Value: s.schedule})
	return nil
}

// Stop halts the cron runner and waits for a running scan to finish.
func (s *Sweeper) Stop() {
	if !s.started {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started = false
	s.logger.Info("SLA sweeper stopped")
}

// Sweep scans once and returns the number of newly reported breaches.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clk.Now()

	schedules, err := s.store.UnfinishedBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished schedules: %w", err)
	}

	breached := 0
	for _, sched := range schedules {
		svc, err := s.store.GetService(ctx, sched.ServiceID)
		if err != nil {
			s.logger.WarnCtx(ctx, "Skipping schedule with unknown service",
				logger.Field{Key: "schedule_id", Value: sched.ID},
				logger.Field{Key: "service_id", Value: sched.ServiceID},
			)
			continue
		}
		if svc.SLAHours == 0 {
			continue
		}

		deadline := visitEnd(sched).Add(time.Duration(svc.SLAHours) * time.Hour)
		if !now.After(deadline) {
			continue
		}
		if !s.markReported(sched.ID) {
			continue
		}

		s.emitBreach(ctx, sched, svc, now.Sub(deadline))
		breached++
	}
	return breached, nil
}

// visitEnd is the wall-clock moment the visit window closes.
func visitEnd(sched *model.Schedule) time.Time {
	d := sched.Date
	return time.Date(d.Year(), d.Month(), d.Day(), 0, sched.Window.End, 0, 0, time.UTC)
}

// markReported records a breach, answering false if it was already known.
func (s *Sweeper) markReported(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported[id] {
		return false
	}
	s.reported[id] = true
	return true
}

func (s *Sweeper) emitBreach(ctx context.Context, sched *model.Schedule, svc *model.Service, overdue time.Duration) {
	if s.breaches != nil {
		s.breaches.Inc()
	}
	if s.pub == nil {
		return
	}

	err := s.pub.Publish(bus.Event{
		Type:       bus.EventSLABreached,
		ScheduleID: sched.ID,
		Protocol:   sched.Protocol,
		AgentID:    sched.AgentID,
		ProjectID:  sched.ProjectID,
		Category:   svc.Category,
		Timestamp:  s.clk.Now(),
		Metadata: map[string]any{
			"service":         svc.Name,
			"sla_hours":       svc.SLAHours,
			"overdue_minutes": int(overdue.Minutes()),
		},
	})
	if err != nil {
		s.logger.WarnCtx(ctx, "Failed to publish SLA breach",
			logger.Field{Key: "schedule_id", Value: sched.ID},
			logger.Field{Key: "error", Value: err.Error()},
		)
	}
}
