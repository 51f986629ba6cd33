package route

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// scriptedEstimator returns minutes from a table keyed by address pair;
// unknown pairs cost zero.
type scriptedEstimator struct {
	table map[[2]model.Geo]int
}

func (s scriptedEstimator) Estimate(_ context.Context, from, to *model.Geo) int {
	if from == nil || to == nil {
		return 0
	}
	return s.table[[2]model.Geo{*from, *to}]
}

func window(start, end int) interval.Interval {
	return interval.Interval{Start: start, End: end}
}

func visitAt(start, end int, at model.Geo) *model.Schedule {
	return &model.Schedule{
		Window:  window(start, end),
		Address: model.Address{Text: "x", Geo: &at},
	}
}

func TestEmptyDayInsertsAtZero(t *testing.T) {
	plan := Insert(context.Background(), scriptedEstimator{}, window(480, 1080), nil, window(600, 660), nil)

	require.True(t, plan.Feasible)
	assert.Equal(t, 0, plan.InsertionIndex)
	assert.Equal(t, 0, plan.AddedTravelMinutes)
}

func TestPicksPositionWithLeastAddedTravel(t *testing.T) {
	a := model.Geo{Lat: 1}
	b := model.Geo{Lat: 2}
	c := model.Geo{Lat: 3}
	est := scriptedEstimator{table: map[[2]model.Geo]int{
		{a, c}: 30, // after the first visit
		{c, b}: 30,
		{c, a}: 5, // before the first visit
	}}

	schedules := []*model.Schedule{
		visitAt(600, 660, a),
		visitAt(900, 960, b),
	}

	// 08:30-09:30 fits both at i=0 (added 5) and nowhere else; the day
	// before the first visit only costs travel to A.
	plan := Insert(context.Background(), est, window(480, 1080), schedules, window(510, 570), &c)
	require.True(t, plan.Feasible)
	assert.Equal(t, 0, plan.InsertionIndex)
	assert.Equal(t, 5, plan.AddedTravelMinutes)
}

func TestFitsBetweenVisits(t *testing.T) {
	a := model.Geo{Lat: 1}
	b := model.Geo{Lat: 2}
	est := scriptedEstimator{} // all travel free

	schedules := []*model.Schedule{
		visitAt(540, 600, a),
		visitAt(900, 960, b),
	}

	plan := Insert(context.Background(), est, window(480, 1080), schedules, window(630, 660), nil)
	require.True(t, plan.Feasible)
	assert.Equal(t, 1, plan.InsertionIndex)
	assert.Equal(t, 0, plan.AddedTravelMinutes)
}

func TestInsertionSqueeze(t *testing.T) {
	a := model.Geo{Lat: 1}
	b := model.Geo{Lat: 2}
	c := model.Geo{Lat: 3}
	est := scriptedEstimator{table: map[[2]model.Geo]int{
		{a, c}: 10,
		{c, b}: 10,
	}}

	// Visits 09:00-10:00 at A and 11:00-12:00 at B; asking for
	// 10:00-11:00 at C leaves only 10:10-10:50 between them.
	schedules := []*model.Schedule{
		visitAt(540, 600, a),
		visitAt(660, 720, b),
	}

	plan := Insert(context.Background(), est, window(480, 1080), schedules, window(600, 660), &c)
	require.False(t, plan.Feasible)
	assert.Equal(t, []interval.Interval{
		window(480, 540), // before the day's first visit
		window(610, 650), // squeezed between A and B
		window(720, 1080),
	}, plan.CandidateWindows)
}

func TestPositionsOutsideDayAreSkipped(t *testing.T) {
	a := model.Geo{Lat: 1}
	c := model.Geo{Lat: 3}
	est := scriptedEstimator{table: map[[2]model.Geo]int{
		{a, c}: 2000, // travel pushes earliest past midnight
	}}

	schedules := []*model.Schedule{visitAt(540, 600, a)}

	plan := Insert(context.Background(), est, window(480, 1080), schedules, window(660, 720), &c)
	require.False(t, plan.Feasible)
	// Only position 0 (before the visit) survives.
	assert.Equal(t, []interval.Interval{window(480, 540)}, plan.CandidateWindows)
}

func TestRequestLongerThanAnyGap(t *testing.T) {
	est := scriptedEstimator{}
	schedules := []*model.Schedule{
		visitAt(540, 600, model.Geo{Lat: 1}),
	}

	// Request longer than any gap: infeasible everywhere.
	plan := Insert(context.Background(), est, window(480, 620), schedules, window(480, 620), nil)
	require.False(t, plan.Feasible)
	assert.Equal(t, []interval.Interval{window(480, 540), window(600, 620)}, plan.CandidateWindows)
}
