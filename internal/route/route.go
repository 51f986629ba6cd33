// Package route decides where a new visit fits in an agent's day. It walks
// the insertion positions between existing visits, derives the feasible
// window at each position from the neighbours' times plus travel to and
// from the new address, and picks the feasible position with the least
// added travel.
package route

import (
	"context"

	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// Estimator supplies travel minutes between two addresses. Nil coordinates
// are allowed; the estimator substitutes a default.
type Estimator interface {
	Estimate(ctx context.Context, from, to *model.Geo) int
}

// Plan is the optimizer's answer. When Feasible, InsertionIndex is the
// position in the day's ordered visit list and AddedTravelMinutes the
// travel cost the insertion introduces. When infeasible, CandidateWindows
// lists the non-empty feasible windows of all positions so the caller can
// offer alternatives.
type Plan struct {
	Feasible           bool
	InsertionIndex     int
	AddedTravelMinutes int
	CandidateWindows   []interval.Interval
}

// Insert plans the placement of a visit at the given window and address
// into the agent's day. free is the agent's free window, schedules the
// day's existing visits ordered by start time.
func Insert(ctx context.Context, est Estimator, free interval.Interval, schedules []*model.Schedule, win interval.Interval, visit *model.Geo) Plan {
	var (
		bestIndex  = -1
		bestTravel int
		candidates []interval.Interval
	)

	for i := 0; i <= len(schedules); i++ {
		prevEnd := free.Start
		tauPrev := 0
		if i > 0 {
			prevEnd = schedules[i-1].Window.End
			tauPrev = est.Estimate(ctx, schedules[i-1].Geo(), visit)
		}

		nextStart := free.End
		tauNext := 0
		if i < len(schedules) {
			nextStart = schedules[i].Window.Start
			tauNext = est.Estimate(ctx, visit, schedules[i].Geo())
		}

		earliest := prevEnd + tauPrev
		latest := nextStart - tauNext
		if earliest < 0 || earliest >= interval.MinutesPerDay || latest < 0 || latest > interval.MinutesPerDay {
			continue
		}
		if earliest < latest {
			candidates = append(candidates, interval.Interval{Start: earliest, End: latest})
		}

		if win.Start >= earliest && win.End <= latest {
			added := tauPrev + tauNext
			if bestIndex == -1 || added < bestTravel {
				bestIndex = i
				bestTravel = added
			}
		}
	}

	if bestIndex >= 0 {
		return Plan{Feasible: true, InsertionIndex: bestIndex, AddedTravelMinutes: bestTravel}
	}
	return Plan{CandidateWindows: interval.Dedup(candidates)}
}
