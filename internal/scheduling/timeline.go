package scheduling

import (
	"context"
	"time"

	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// SlotState is the rendering of one timeline cell.
type SlotState string

const (
	SlotBusy    SlotState = "Busy"
	SlotBlocked SlotState = "Blocked"
	SlotFree    SlotState = "Free"
)

// Slot is one cell of an agent's rail.
type Slot struct {
	Window interval.Interval
	State  SlotState
}

// AgentTimeline is one agent's rail for the day.
type AgentTimeline struct {
	Agent *model.Agent
	Slots []Slot
}

// Timeline renders the fixed slot grid for every agent (or one agent) on a
// date. A slot is Busy when any schedule overlaps it, otherwise Blocked
// when any block overlaps it, otherwise Free.
func (s *Service) Timeline(ctx context.Context, date time.Time, agentID int64) ([]AgentTimeline, error) {
	var (
		agents []*model.Agent
		err    error
	)
	if agentID != 0 {
		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		agents = []*model.Agent{agent}
	} else if agents, err = s.store.Agents(ctx); err != nil {
		return nil, err
	}

	out := make([]AgentTimeline, 0, len(agents))
	for _, agent := range agents {
		schedules, err := s.store.ByAgentDate(ctx, agent.ID, date)
		if err != nil {
			return nil, err
		}
		blocks, err := s.cal.BlocksOn(ctx, agent.ID, date)
		if err != nil {
			return nil, err
		}

		rail := make([]Slot, len(s.slots))
		for i, win := range s.slots {
			rail[i] = Slot{Window: win, State: slotState(win, schedules, blocks)}
		}
		out = append(out, AgentTimeline{Agent: agent, Slots: rail})
	}
	return out, nil
}

func slotState(win interval.Interval, schedules []*model.Schedule, blocks []*model.Block) SlotState {
	for _, sched := range schedules {
		if sched.Window.Overlaps(win) {
			return SlotBusy
		}
	}
	for _, b := range blocks {
		if b.Window.Overlaps(win) {
			return SlotBlocked
		}
	}
	return SlotFree
}
