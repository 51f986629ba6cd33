package availability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

func window(start, end int) interval.Interval {
	return interval.Interval{Start: start, End: end}
}

func freeWindow(start, end int) *model.FreeWindow {
	return &model.FreeWindow{AgentID: 1, DayOfWeek: 0, Window: window(start, end)}
}

func block(start, end int) *model.Block {
	return &model.Block{AgentID: 1, Window: window(start, end)}
}

func schedule(start, end int) *model.Schedule {
	return &model.Schedule{AgentID: 1, Window: window(start, end)}
}

func TestNoFreeWindow(t *testing.T) {
	res := Check(nil, nil, nil, window(540, 630))
	assert.False(t, res.Available)
	assert.Equal(t, ReasonNoFreeWindow, res.Reason)
	assert.Empty(t, res.FreeWindows)
}

func TestOutsideFreeWindow(t *testing.T) {
	// Free 09:00-18:00; asking for 08:00-09:30 leaks out on the left.
	res := Check(freeWindow(540, 1080), nil, nil, window(480, 570))
	assert.False(t, res.Available)
	assert.Equal(t, ReasonOutsideFreeWindow, res.Reason)
	assert.Equal(t, []interval.Interval{window(540, 1080)}, res.FreeWindows)
}

func TestBlockedBeatsConflict(t *testing.T) {
	// A block and a schedule both overlap the request; Blocked wins.
	res := Check(
		freeWindow(540, 1080),
		[]*model.Block{block(600, 700)},
		[]*model.Schedule{schedule(620, 680)},
		window(610, 660),
	)
	assert.False(t, res.Available)
	assert.Equal(t, ReasonBlocked, res.Reason)
	assert.True(t, res.Blocked)
	assert.True(t, res.HasOverlap)
	// For a Blocked verdict the windows subtract blocks only.
	assert.Equal(t, []interval.Interval{window(540, 600), window(700, 1080)}, res.FreeWindows)
}

func TestConflict(t *testing.T) {
	res := Check(
		freeWindow(540, 1080),
		[]*model.Block{block(960, 1020)},
		[]*model.Schedule{schedule(600, 660)},
		window(630, 700),
	)
	assert.False(t, res.Available)
	assert.Equal(t, ReasonConflict, res.Reason)
	assert.False(t, res.Blocked)
	assert.True(t, res.HasOverlap)
	assert.Equal(t, []interval.Interval{
		window(540, 600),
		window(660, 960),
		window(1020, 1080),
	}, res.FreeWindows)
}

func TestAvailable(t *testing.T) {
	res := Check(
		freeWindow(540, 1080),
		[]*model.Block{block(960, 1020)},
		[]*model.Schedule{schedule(600, 660)},
		window(700, 800),
	)
	assert.True(t, res.Available)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.True(t, res.HasFreeSlot)
	assert.Equal(t, []interval.Interval{
		window(540, 600),
		window(660, 960),
		window(1020, 1080),
	}, res.FreeWindows)
}

func TestTouchingEdgesAreNotOverlaps(t *testing.T) {
	// Half-open intervals: a request ending exactly where a schedule
	// starts, and starting where a block ends, conflicts with neither.
	res := Check(
		freeWindow(480, 1080),
		[]*model.Block{block(480, 540)},
		[]*model.Schedule{schedule(630, 720)},
		window(540, 630),
	)
	assert.True(t, res.Available)
	assert.False(t, res.Blocked)
	assert.False(t, res.HasOverlap)
}

func TestFullyBookedDayHasNoFreeSlot(t *testing.T) {
	res := Check(
		freeWindow(540, 720),
		nil,
		[]*model.Schedule{schedule(540, 630), schedule(630, 720)},
		window(600, 660),
	)
	assert.False(t, res.Available)
	assert.Equal(t, ReasonConflict, res.Reason)
	assert.False(t, res.HasFreeSlot)
	assert.Empty(t, res.FreeWindows)
}
