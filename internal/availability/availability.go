// Package availability decides whether an agent can take a visit window on
// a date. The check is pure: callers gather the agent's free window, blocks
// and existing schedules and pass them in, which keeps the engine
// deterministic and trivially testable.
package availability

import (
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// Reason classifies a negative verdict.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoFreeWindow      Reason = "NoFreeWindow"
	ReasonOutsideFreeWindow Reason = "OutsideFreeWindow"
	ReasonBlocked           Reason = "Blocked"
	ReasonConflict          Reason = "Conflict"
)

// Result is the verdict for one (agent, date, window) question.
//
// FreeWindows lists the remaining bookable sub-windows of the day: the free
// window minus blocks for a Blocked verdict, minus blocks and schedules
// otherwise. Blocked and HasOverlap are reported independently of which
// reason won, so callers can render both flags at once.
type Result struct {
	Available   bool
	Reason      Reason
	Blocked     bool
	HasOverlap  bool
	HasFreeSlot bool
	FreeWindows []interval.Interval
}

// Check runs the verdict chain: no free window, outside the free window,
// blocked, conflicting schedule, available. The first failing rule decides
// the reason.
func Check(free *model.FreeWindow, blocks []*model.Block, schedules []*model.Schedule, win interval.Interval) Result {
	if free == nil {
		return Result{Reason: ReasonNoFreeWindow}
	}

	blocked := anyBlockOverlap(blocks, win)
	overlap := anyScheduleOverlap(schedules, win)

	busy := make([]interval.Interval, 0, len(blocks)+len(schedules))
	for _, b := range blocks {
		busy = append(busy, b.Window)
	}
	blockGaps := interval.Gaps(free.Window, busy)
	for _, s := range schedules {
		busy = append(busy, s.Window)
	}
	allGaps := interval.Gaps(free.Window, busy)

	res := Result{
		Blocked:     blocked,
		HasOverlap:  overlap,
		HasFreeSlot: len(allGaps) > 0,
		FreeWindows: allGaps,
	}

	switch {
	case !free.Window.Contains(win):
		res.Reason = ReasonOutsideFreeWindow
		res.FreeWindows = []interval.Interval{free.Window}
	case blocked:
		res.Reason = ReasonBlocked
		res.FreeWindows = blockGaps
	case overlap:
		res.Reason = ReasonConflict
	default:
		res.Available = true
	}
	return res
}

func anyBlockOverlap(blocks []*model.Block, win interval.Interval) bool {
	for _, b := range blocks {
		if b.Window.Overlaps(win) {
			return true
		}
	}
	return false
}

func anyScheduleOverlap(schedules []*model.Schedule, win interval.Interval) bool {
	for _, s := range schedules {
		if s.Window.Overlaps(win) {
			return true
		}
	}
	return false
}
