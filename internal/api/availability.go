package api

import (
	"net/http"
	"strconv"

	"github.com/fieldsvc/dispatchd/internal/availability"
	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/scheduling"
)

// agentAvailabilityJSON answers GET /availability/{agent}.
type agentAvailabilityJSON struct {
	Agent       int64        `json:"agent"`
	Date        string       `json:"date"`
	Start       string       `json:"start"`
	End         string       `json:"end"`
	Blocked     bool         `json:"blocked"`
	HasFreeSlot bool         `json:"hasFreeSlot"`
	HasOverlap  bool         `json:"hasOverlap"`
	Available   bool         `json:"available"`
	Reason      string       `json:"reason,omitempty"`
	FreeWindows []windowJSON `json:"freeWindows"`
}

func (s *Server) handleAgentAvailability(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agent")
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := dateParam(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	win, err := windowParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}

	free, err := s.cal.FreeWindow(r.Context(), agentID, interval.DayOfWeek(date))
	if err != nil {
		writeError(w, err)
		return
	}
	blocks, err := s.cal.BlocksOn(r.Context(), agentID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	schedules, err := s.store.ByAgentDate(r.Context(), agentID, date)
	if err != nil {
		writeError(w, err)
		return
	}

	verdict := availability.Check(free, blocks, schedules, win)
	writeJSON(w, http.StatusOK, agentAvailabilityJSON{
		Agent:       agentID,
		Date:        date.Format(interval.DateLayout),
		Start:       interval.FormatMinutes(win.Start),
		End:         interval.FormatMinutes(win.End),
		Blocked:     verdict.Blocked,
		HasFreeSlot: verdict.HasFreeSlot,
		HasOverlap:  verdict.HasOverlap,
		Available:   verdict.Available,
		Reason:      string(verdict.Reason),
		FreeWindows: toWindowsJSON(verdict.FreeWindows),
	})
}

// queryEntryJSON is one agent in the GET /availability answer.
type queryEntryJSON struct {
	Agent               int64        `json:"agent"`
	Name                string       `json:"name"`
	Available           bool         `json:"available"`
	Blocked             bool         `json:"blocked"`
	HasOverlap          bool         `json:"hasOverlap"`
	FreeWindows         []windowJSON `json:"freeWindows"`
	ScheduleCountOnDate int          `json:"scheduleCountOnDate"`
	AddedTravelMinutes  int          `json:"addedTravelMinutes,omitempty"`
}

func (s *Server) handleQueryAvailability(w http.ResponseWriter, r *http.Request) {
	serviceID, err := idParam(r, "service")
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := dateParam(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	win, err := windowParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req := scheduling.QueryRequest{
		ServiceID:  serviceID,
		Date:       date,
		Window:     win,
		NameFilter: r.URL.Query().Get("name"),
	}
	if lat, lon := r.URL.Query().Get("lat"), r.URL.Query().Get("lon"); lat != "" && lon != "" {
		geo, err := parseGeo(lat, lon)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Customer = geo
	}

	results, err := s.scheduling.Query(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]queryEntryJSON, len(results))
	for i, entry := range results {
		out[i] = queryEntryJSON{
			Agent:               entry.Agent.ID,
			Name:                entry.Agent.Name,
			Available:           entry.Available,
			Blocked:             entry.Blocked,
			HasOverlap:          entry.HasOverlap,
			FreeWindows:         toWindowsJSON(entry.FreeWindows),
			ScheduleCountOnDate: entry.ScheduleCountOnDate,
			AddedTravelMinutes:  entry.AddedTravelMinutes,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// timelineJSON is one agent's rail in GET /schedules/timeline.
type timelineJSON struct {
	Agent int64              `json:"agent"`
	Name  string             `json:"name"`
	Slots []timelineSlotJSON `json:"slots"`
}

type timelineSlotJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	State string `json:"state"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	agentID, err := idParam(r, "agent")
	if err != nil {
		writeError(w, err)
		return
	}

	rails, err := s.scheduling.Timeline(r.Context(), date, agentID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]timelineJSON, len(rails))
	for i, rail := range rails {
		slots := make([]timelineSlotJSON, len(rail.Slots))
		for j, slot := range rail.Slots {
			slots[j] = timelineSlotJSON{
				Start: interval.FormatMinutes(slot.Window.Start),
				End:   interval.FormatMinutes(slot.Window.End),
				State: string(slot.State),
			}
		}
		out[i] = timelineJSON{Agent: rail.Agent.ID, Name: rail.Agent.Name, Slots: slots}
	}
	writeJSON(w, http.StatusOK, out)
}

func parseGeo(lat, lon string) (*model.Geo, error) {
	var (
		geo model.Geo
		err error
	)
	if geo.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
		return nil, fault.New(fault.KindInvalidInterval, "invalid lat: %v", err)
	}
	if geo.Lon, err = strconv.ParseFloat(lon, 64); err != nil {
		return nil, fault.New(fault.KindInvalidInterval, "invalid lon: %v", err)
	}
	return &geo, nil
}
