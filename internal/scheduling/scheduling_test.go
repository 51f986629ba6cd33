package scheduling

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsvc/dispatchd/internal/bus"
	"github.com/fieldsvc/dispatchd/internal/calendar"
	"github.com/fieldsvc/dispatchd/internal/clock"
	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/store"
	"github.com/fieldsvc/dispatchd/internal/travel"
)

// visitDate is a Monday (day-of-week 0) a week after the test clock.
var visitDate = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

type capturePublisher struct {
	events []bus.Event
}

func (c *capturePublisher) Publish(e bus.Event) error {
	c.events = append(c.events, e)
	return nil
}

// scriptedOracle answers travel queries from a table keyed by coordinate
// pair; unknown pairs cost zero.
type scriptedOracle struct {
	table map[[2]model.Geo]int
}

func (o scriptedOracle) Minutes(_ context.Context, from, to model.Geo) (int, error) {
	return o.table[[2]model.Geo{from, to}], nil
}

func newFixture(t *testing.T, oracle travel.Port) (*Service, *store.Store, *calendar.Calendar, *capturePublisher, *clock.Fixed) {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	clk := clock.NewFixed(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	st, err := store.New(filepath.Join(t.TempDir(), "dispatchd.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cal := calendar.New(st)
	resolver := travel.NewResolver(oracle, travel.Fallback{Kmh: 40}, 30, nil)
	pub := &capturePublisher{}

	svc := New(st, cal, resolver, pub, clk, log, Counters{}, Options{
		ShortNoticeHours: 24,
		TimelineSlots: []interval.Interval{
			{Start: 540, End: 630}, {Start: 630, End: 720},
			{Start: 780, End: 870}, {Start: 870, End: 960},
			{Start: 960, End: 1050}, {Start: 1050, End: 1140},
		},
	})
	return svc, st, cal, pub, clk
}

func seed(t *testing.T, st *store.Store, cal *calendar.Calendar) (*model.Agent, *model.Service) {
	t.Helper()
	ctx := context.Background()

	agent, err := st.CreateAgent(ctx, "Marcos Lima", []string{"installation"})
	require.NoError(t, err)
	svc, err := st.UpsertService(ctx, model.Service{Name: "Fiber Installation", Category: "installation"})
	require.NoError(t, err)

	// Free 08:00-18:00 on the visit's day of week.
	_, err = cal.SetFreeWindow(ctx, agent.ID, interval.DayOfWeek(visitDate), interval.Interval{Start: 480, End: 1080})
	require.NoError(t, err)
	return agent, svc
}

func bookReq(agent *model.Agent, svc *model.Service, start, end int) BookRequest {
	return BookRequest{
		Actor:     model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}},
		ServiceID: svc.ID,
		AgentID:   agent.ID,
		Date:      visitDate,
		Window:    interval.Interval{Start: start, End: end},
		Address:   model.Address{Text: "Rua das Flores 100"},
	}
}

func TestBookHappyPath(t *testing.T) {
	svc, st, cal, pub, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)

	sched, err := svc.Book(context.Background(), bookReq(agent, service, 600, 660))
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.NotEmpty(t, sched.Protocol)
	assert.Equal(t, model.AgentPending, sched.AgentStatus)

	require.Len(t, pub.events, 1)
	assert.Equal(t, bus.EventScheduleCreated, pub.events[0].Type)
	assert.Equal(t, "installation", pub.events[0].Category)
}

func TestBookConflictReturnsGaps(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()

	_, err := svc.Book(ctx, bookReq(agent, service, 600, 660))
	require.NoError(t, err)

	_, err = svc.Book(ctx, bookReq(agent, service, 630, 690))
	require.Error(t, err)
	f := fault.As(err)
	require.NotNil(t, f)
	assert.Equal(t, fault.KindConflict, f.Kind)
	assert.Equal(t, []interval.Interval{
		{Start: 480, End: 600},
		{Start: 660, End: 1080},
	}, f.FreeWindows)
}

func TestBookVerdicts(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()

	// Outside the free window.
	_, err := svc.Book(ctx, bookReq(agent, service, 420, 510))
	assert.Equal(t, fault.KindOutsideFreeWindow, fault.KindOf(err))

	// Blocked.
	_, err = cal.AddBlock(ctx, agent.ID, visitDate, visitDate, interval.Interval{Start: 600, End: 720})
	require.NoError(t, err)
	_, err = svc.Book(ctx, bookReq(agent, service, 630, 690))
	assert.Equal(t, fault.KindBlocked, fault.KindOf(err))

	// No free window on another weekday.
	req := bookReq(agent, service, 600, 660)
	req.Date = visitDate.AddDate(0, 0, 1)
	_, err = svc.Book(ctx, req)
	assert.Equal(t, fault.KindNoFreeWindow, fault.KindOf(err))

	// Degenerate interval.
	_, err = svc.Book(ctx, bookReq(agent, service, 660, 600))
	assert.Equal(t, fault.KindInvalidInterval, fault.KindOf(err))
}

func TestBookShortNotice(t *testing.T) {
	svc, st, cal, _, clk := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()

	// 22 hours before the visit start.
	clk.Set(time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC))

	req := bookReq(agent, service, 600, 660)
	req.Actor = model.Actor{ID: "agent-self", AgentID: agent.ID}
	_, err := svc.Book(ctx, req)
	assert.Equal(t, fault.KindForbidden, fault.KindOf(err))

	req.Actor.Capabilities = []string{model.CapabilityShortNotice}
	_, err = svc.Book(ctx, req)
	assert.NoError(t, err)
}

func TestBookInsertionSqueeze(t *testing.T) {
	a := model.Geo{Lat: 1}
	b := model.Geo{Lat: 2}
	c := model.Geo{Lat: 3}
	oracle := scriptedOracle{table: map[[2]model.Geo]int{
		{a, c}: 10,
		{c, b}: 10,
	}}

	svc, st, cal, _, _ := newFixture(t, oracle)
	agent, service := seed(t, st, cal)
	ctx := context.Background()

	first := bookReq(agent, service, 540, 600)
	first.Address = model.Address{Text: "A", Geo: &a}
	_, err := svc.Book(ctx, first)
	require.NoError(t, err)

	second := bookReq(agent, service, 660, 720)
	second.Address = model.Address{Text: "B", Geo: &b}
	_, err = svc.Book(ctx, second)
	require.NoError(t, err)

	// 10:00-11:00 at C: travel squeezes the middle gap to 10:10-10:50.
	squeezed := bookReq(agent, service, 600, 660)
	squeezed.Address = model.Address{Text: "C", Geo: &c}
	_, err = svc.Book(ctx, squeezed)
	require.Error(t, err)
	f := fault.As(err)
	require.NotNil(t, f)
	assert.Equal(t, fault.KindNoInsertion, f.Kind)
	assert.Equal(t, []interval.Interval{
		{Start: 480, End: 540},
		{Start: 610, End: 650},
		{Start: 720, End: 1080},
	}, f.CandidateWindows)
}

func TestBookUnassignedSkipsPipeline(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	_, service := seed(t, st, cal)

	req := BookRequest{
		Actor:     model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}},
		ServiceID: service.ID,
		Date:      visitDate,
		Window:    interval.Interval{Start: 600, End: 660},
		Address:   model.Address{Text: "Rua das Flores 100"},
	}
	sched, err := svc.Book(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, sched.Assigned())
}

func TestQueryEligibilityAndSort(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	_, service := seed(t, st, cal)
	ctx := context.Background()

	// seed() created Marcos; add two more installers and one inspector.
	ana, err := st.CreateAgent(ctx, "Ana Souza", []string{"installation"})
	require.NoError(t, err)
	jose, err := st.CreateAgent(ctx, "José Álvares", []string{"installation"})
	require.NoError(t, err)
	_, err = st.CreateAgent(ctx, "Rita Inspector", []string{"inspection"})
	require.NoError(t, err)

	dow := interval.DayOfWeek(visitDate)
	for _, id := range []int64{ana.ID, jose.ID} {
		_, err = cal.SetFreeWindow(ctx, id, dow, interval.Interval{Start: 480, End: 1080})
		require.NoError(t, err)
	}

	// Load Ana's day so she sorts after the others.
	_, err = svc.Book(ctx, bookReq(ana, service, 540, 600))
	require.NoError(t, err)

	results, err := svc.Query(ctx, QueryRequest{
		ServiceID: service.ID,
		Date:      visitDate,
		Window:    interval.Interval{Start: 600, End: 660},
	})
	require.NoError(t, err)
	require.Len(t, results, 3, "inspector is not eligible")
	assert.Equal(t, ana.ID, results[2].Agent.ID, "loaded agent sorts last")
	assert.Equal(t, 1, results[2].ScheduleCountOnDate)
	for _, r := range results {
		assert.True(t, r.Available)
	}

	// Accent-insensitive name filter.
	results, err = svc.Query(ctx, QueryRequest{
		ServiceID:  service.ID,
		Date:       visitDate,
		Window:     interval.Interval{Start: 600, End: 660},
		NameFilter: "jose alva",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, jose.ID, results[0].Agent.ID)
}

func TestRescheduleExcludesSelf(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()
	actor := model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}}

	sched, err := svc.Book(ctx, bookReq(agent, service, 600, 660))
	require.NoError(t, err)

	// Shifting within its own window must not conflict with itself.
	win := interval.Interval{Start: 610, End: 670}
	moved, err := svc.Reschedule(ctx, actor, sched.ID, RescheduleRequest{Window: &win})
	require.NoError(t, err)
	assert.Equal(t, win, moved.Window)

	// A second visit cannot be moved onto the first.
	other, err := svc.Book(ctx, bookReq(agent, service, 780, 840))
	require.NoError(t, err)
	bad := interval.Interval{Start: 620, End: 680}
	_, err = svc.Reschedule(ctx, actor, other.ID, RescheduleRequest{Window: &bad})
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestRescheduleTerminalForbidden(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()
	actor := model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}}

	sched, err := svc.Book(ctx, bookReq(agent, service, 600, 660))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, actor, sched.ID))

	win := interval.Interval{Start: 700, End: 760}
	_, err = svc.Reschedule(ctx, actor, sched.ID, RescheduleRequest{Window: &win})
	// Cancelled schedules are soft-deleted, so the lookup fails first.
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestCancelFreesTheSlot(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()
	actor := model.Actor{ID: "dispatcher", Capabilities: []string{model.CapabilitySupervise}}

	sched, err := svc.Book(ctx, bookReq(agent, service, 600, 660))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, actor, sched.ID))

	_, err = svc.Book(ctx, bookReq(agent, service, 600, 660))
	assert.NoError(t, err)
}

func TestConcurrentBookingOneWins(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()

	results := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := svc.Book(ctx, bookReq(agent, service, 840, 900))
			results <- err
		}()
	}

	var errs []error
	for range 2 {
		errs = append(errs, <-results)
	}

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1, "exactly one booking wins")

	kind := fault.KindOf(failures[0])
	assert.Contains(t, []fault.Kind{fault.KindOverlap, fault.KindConflict}, kind)
	if kind == fault.KindOverlap {
		// The loser re-read the bucket: the fresh gaps exclude the
		// winner's slot.
		f := fault.As(failures[0])
		assert.Equal(t, []interval.Interval{
			{Start: 480, End: 840},
			{Start: 900, End: 1080},
		}, f.FreeWindows)
	}
}

func TestTimeline(t *testing.T) {
	svc, st, cal, _, _ := newFixture(t, nil)
	agent, service := seed(t, st, cal)
	ctx := context.Background()

	// Busy 09:00-10:30, blocked 13:00-14:30, rest free.
	_, err := svc.Book(ctx, bookReq(agent, service, 540, 630))
	require.NoError(t, err)
	_, err = cal.AddBlock(ctx, agent.ID, visitDate, visitDate, interval.Interval{Start: 780, End: 870})
	require.NoError(t, err)

	rails, err := svc.Timeline(ctx, visitDate, agent.ID)
	require.NoError(t, err)
	require.Len(t, rails, 1)

	states := make([]SlotState, len(rails[0].Slots))
	for i, slot := range rails[0].Slots {
		states[i] = slot.State
	}
	assert.Equal(t, []SlotState{SlotBusy, SlotFree, SlotBlocked, SlotFree, SlotFree, SlotFree}, states)
}
