package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
)

type memStore struct {
	schedules map[string]*model.Schedule
	services  map[int64]*model.Service
	opinions  map[int64]*model.ServiceOpinion
}

func newMemStore() *memStore {
	return &memStore{
		schedules: make(map[string]*model.Schedule),
		services:  make(map[int64]*model.Service),
		opinions:  make(map[int64]*model.ServiceOpinion),
	}
}

func (m *memStore) GetSchedule(_ context.Context, id string) (*model.Schedule, error) {
	sched, ok := m.schedules[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "schedule %s not found", id)
	}
	cp := *sched
	return &cp, nil
}

func (m *memStore) SaveLifecycle(_ context.Context, sched *model.Schedule) error {
	cp := *sched
	m.schedules[sched.ID] = &cp
	return nil
}

func (m *memStore) GetService(_ context.Context, id int64) (*model.Service, error) {
	svc, ok := m.services[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "service %d not found", id)
	}
	return svc, nil
}

func (m *memStore) GetOpinion(_ context.Context, id int64) (*model.ServiceOpinion, error) {
	op, ok := m.opinions[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "opinion %d not found", id)
	}
	return op, nil
}

type capturePublisher struct {
	events []bus.Event
}

func (c *capturePublisher) Publish(e bus.Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *capturePublisher) byType(t bus.EventType) []bus.Event {
	var out []bus.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestMachine(t *testing.T) (*Machine, *memStore, *capturePublisher, *clock.Fixed) {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	store := newMemStore()
	pub := &capturePublisher{}
	clk := clock.NewFixed(time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC))
	return New(store, pub, clk, log), store, pub, clk
}

func seedSchedule(store *memStore) *model.Schedule {
	store.services[1] = &model.Service{ID: 1, Name: "Site Inspection", Category: "inspection"}
	store.opinions[10] = &model.ServiceOpinion{ID: 10, ServiceID: 1, Name: "Approved", Approved: true, Final: true}
	store.opinions[11] = &model.ServiceOpinion{ID: 11, ServiceID: 1, Name: "Approved with remarks", Exchangeable: true, Final: true}
	store.opinions[12] = &model.ServiceOpinion{ID: 12, ServiceID: 1, Name: "Rejected", Final: true}

	sched := &model.Schedule{
		ID:          "s1",
		Protocol:    "20260309090000",
		AgentID:     7,
		ServiceID:   1,
		ProjectID:   42,
		Date:        time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		Window:      interval.Interval{Start: 600, End: 660},
		AgentStatus: model.AgentPending,
		Step:        model.StepNotStarted,
	}
	store.schedules["s1"] = sched
	return sched
}

var agent7 = model.Actor{ID: "agent-7", AgentID: 7}

func TestFullRoundTripStampsMonotonicTimestamps(t *testing.T) {
	m, store, pub, clk := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	clk.Advance(time.Minute)
	sched, err := m.MarkTraveling(ctx, agent7, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentInProgress, sched.AgentStatus)
	assert.Equal(t, model.StepTraveling, sched.Step)

	clk.Advance(20 * time.Minute)
	sched, err = m.MarkArrived(ctx, agent7, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StepTravelDone, sched.Step)

	clk.Advance(5 * time.Minute)
	sched, err = m.StartService(ctx, agent7, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StepServicing, sched.Step)

	clk.Advance(40 * time.Minute)
	sched, err = m.FinishService(ctx, agent7, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, model.AgentDone, sched.AgentStatus)
	assert.Equal(t, model.StepServiceDone, sched.Step)
	assert.Equal(t, int64(10), sched.FinalOpinionID)
	assert.Equal(t, "agent-7", sched.FinalOpinionUser)

	require.NotNil(t, sched.GoingAt)
	require.NotNil(t, sched.ArrivedAt)
	require.NotNil(t, sched.StartedAt)
	require.NotNil(t, sched.FinishedAt)
	assert.True(t, sched.GoingAt.Before(*sched.ArrivedAt))
	assert.True(t, sched.ArrivedAt.Before(*sched.StartedAt))
	assert.True(t, sched.StartedAt.Before(*sched.FinishedAt))

	transitions := pub.byType(bus.EventTransitionApplied)
	require.Len(t, transitions, 4)
	assert.Equal(t, "markTraveling", transitions[0].Transition)
	assert.Equal(t, "finishService", transitions[3].Transition)
}

func TestApprovedInspectionEmitsEvent(t *testing.T) {
	m, store, pub, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	_, err := m.MarkTraveling(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.MarkArrived(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.StartService(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.FinishService(ctx, agent7, "s1", 10)
	require.NoError(t, err)

	passed := pub.byType(bus.EventInspectionPassed)
	require.Len(t, passed, 1)
	assert.Equal(t, int64(42), passed[0].ProjectID)
	assert.Equal(t, "inspection", passed[0].Category)
}

func TestRejectedInspectionEmitsNothing(t *testing.T) {
	m, store, pub, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	_, err := m.MarkTraveling(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.MarkArrived(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.StartService(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.FinishService(ctx, agent7, "s1", 12)
	require.NoError(t, err)

	assert.Empty(t, pub.byType(bus.EventInspectionPassed))
}

func TestTransitionsRejectWrongState(t *testing.T) {
	m, store, _, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	// Arriving before traveling.
	_, err := m.MarkArrived(ctx, agent7, "s1")
	assert.Equal(t, fault.KindIllegalTransition, fault.KindOf(err))

	// Finishing before starting.
	_, err = m.FinishService(ctx, agent7, "s1", 10)
	assert.Equal(t, fault.KindIllegalTransition, fault.KindOf(err))

	_, err = m.MarkTraveling(ctx, agent7, "s1")
	require.NoError(t, err)

	// Traveling twice.
	_, err = m.MarkTraveling(ctx, agent7, "s1")
	assert.Equal(t, fault.KindIllegalTransition, fault.KindOf(err))
}

func TestCancelTerminalForbidden(t *testing.T) {
	m, store, _, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	sched, err := m.Cancel(ctx, agent7, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentCancelled, sched.AgentStatus)

	_, err = m.Cancel(ctx, agent7, "s1")
	assert.Equal(t, fault.KindIllegalTransition, fault.KindOf(err))
}

func TestAuthorization(t *testing.T) {
	m, store, _, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	stranger := model.Actor{ID: "agent-9", AgentID: 9}
	_, err := m.MarkTraveling(ctx, stranger, "s1")
	assert.Equal(t, fault.KindForbidden, fault.KindOf(err))

	supervisor := model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}}
	_, err = m.MarkTraveling(ctx, supervisor, "s1")
	assert.NoError(t, err)
}

func TestAssign(t *testing.T) {
	m, store, _, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	unassigned := &model.Schedule{
		ID:          "s2",
		ServiceID:   1,
		Date:        time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		Window:      interval.Interval{Start: 700, End: 760},
		AgentStatus: model.AgentPending,
		Step:        model.StepNotStarted,
	}
	store.schedules["s2"] = unassigned

	// Self-assign is allowed.
	sched, err := m.Assign(ctx, agent7, "s2", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sched.AgentID)

	// Assigning someone else needs supervise.
	_, err = m.Assign(ctx, agent7, "s2", 9)
	assert.Equal(t, fault.KindForbidden, fault.KindOf(err))

	supervisor := model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}}
	_, err = m.Assign(ctx, supervisor, "s2", 9)
	assert.NoError(t, err)
}

func TestFinalOpinionExchangeRule(t *testing.T) {
	m, store, _, _ := newTestMachine(t)
	seedSchedule(store)
	ctx := context.Background()

	_, err := m.MarkTraveling(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.MarkArrived(ctx, agent7, "s1")
	require.NoError(t, err)
	_, err = m.StartService(ctx, agent7, "s1")
	require.NoError(t, err)

	// Finish with the exchangeable opinion.
	sched, err := m.FinishService(ctx, agent7, "s1", 11)
	require.NoError(t, err)
	assert.Equal(t, int64(11), sched.FinalOpinionID)

	// Exchangeable prior: swap allowed, the setter is re-recorded.
	supervisor := model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}}
	sched, err = m.ExchangeFinalOpinion(ctx, supervisor, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sched.FinalOpinionID)
	assert.Equal(t, "dispatcher", sched.FinalOpinionUser)

	// The new prior is not exchangeable: further swaps are refused.
	_, err = m.ExchangeFinalOpinion(ctx, supervisor, "s1", 12)
	assert.Equal(t, fault.KindForbidden, fault.KindOf(err))
}
