package api

import (
	"encoding/json"
	"net/http"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

type agentJSON struct {
	ID   int64    `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

func toAgentJSON(a *model.Agent) agentJSON {
	return agentJSON{ID: a.ID, Name: a.Name, Tags: a.Tags}
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, fault.New(fault.KindInvalidInterval, "agent name required"))
		return
	}

	agent, err := s.store.CreateAgent(r.Context(), body.Name, body.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentJSON(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.Agents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]agentJSON, len(agents))
	for i, a := range agents {
		out[i] = toAgentJSON(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// freeWindowBody is the PUT payload for a weekly free window.
type freeWindowBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleSetFreeWindow(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agent")
	if err != nil {
		writeError(w, err)
		return
	}
	dow, err := pathID(r, "dow")
	if err != nil {
		writeError(w, err)
		return
	}

	var body freeWindowBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "invalid body: %v", err))
		return
	}
	win, err := interval.ParseWindow(body.Start, body.End)
	if err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
		return
	}
	if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}

	fw, err := s.cal.SetFreeWindow(r.Context(), agentID, int(dow), win)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":     fw.AgentID,
		"dayOfWeek": fw.DayOfWeek,
		"start":     interval.FormatMinutes(fw.Window.Start),
		"end":       interval.FormatMinutes(fw.Window.End),
	})
}

func (s *Server) handleDeleteFreeWindow(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agent")
	if err != nil {
		writeError(w, err)
		return
	}
	dow, err := pathID(r, "dow")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.cal.DeleteFreeWindow(r.Context(), agentID, int(dow)); err != nil {
		writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// blockBody is the POST payload for a date-ranged block.
type blockBody struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agent")
	if err != nil {
		writeError(w, err)
		return
	}

	var body blockBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "invalid body: %v", err))
		return
	}
	startDate, err := interval.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
		return
	}
	endDate, err := interval.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
		return
	}
	win, err := interval.ParseWindow(body.Start, body.End)
	if err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
		return
	}
	if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}

	block, err := s.cal.AddBlock(r.Context(), agentID, startDate, endDate, win)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        block.ID,
		"agent":     block.AgentID,
		"startDate": block.StartDate.Format(interval.DateLayout),
		"endDate":   block.EndDate.Format(interval.DateLayout),
		"start":     interval.FormatMinutes(block.Window.Start),
		"end":       interval.FormatMinutes(block.Window.End),
	})
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agent")
	if err != nil {
		writeError(w, err)
		return
	}
	blockID, err := pathID(r, "block")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.cal.DeleteBlock(r.Context(), agentID, blockID); err != nil {
		writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
