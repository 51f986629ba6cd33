package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/scheduling"
	"github.com/fieldsvc/dispatchd/internal/store"
)

// scheduleJSON is the wire form of a schedule. Agent-status codes keep
// their short form with a display name alongside.
type scheduleJSON struct {
	ID                 string      `json:"id"`
	Protocol           string      `json:"protocol"`
	Agent              int64       `json:"agent,omitempty"`
	Service            int64       `json:"service"`
	Customer           int64       `json:"customer,omitempty"`
	Project            int64       `json:"project,omitempty"`
	Parents            []string    `json:"parents,omitempty"`
	Date               string      `json:"date"`
	Start              string      `json:"start"`
	End                string      `json:"end"`
	Address            addressJSON `json:"address"`
	AgentStatus        string      `json:"agentStatus"`
	AgentStatusDisplay string      `json:"agentStatusDisplay"`
	Step               int         `json:"step"`
	StepDisplay        string      `json:"stepDisplay"`
	Observation        string      `json:"observation,omitempty"`
	FinalOpinion       int64       `json:"finalOpinion,omitempty"`
	FinalOpinionUser   string      `json:"finalOpinionUser,omitempty"`
	GoingAt            *time.Time  `json:"goingAt,omitempty"`
	ArrivedAt          *time.Time  `json:"arrivedAt,omitempty"`
	StartedAt          *time.Time  `json:"startedAt,omitempty"`
	FinishedAt         *time.Time  `json:"finishedAt,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
}

type addressJSON struct {
	Text string     `json:"text"`
	Geo  *model.Geo `json:"geo,omitempty"`
}

func toScheduleJSON(s *model.Schedule) scheduleJSON {
	return scheduleJSON{
		ID:                 s.ID,
		Protocol:           s.Protocol,
		Agent:              s.AgentID,
		Service:            s.ServiceID,
		Customer:           s.CustomerID,
		Project:            s.ProjectID,
		Parents:            s.ParentIDs,
		Date:               s.Date.Format(interval.DateLayout),
		Start:              interval.FormatMinutes(s.Window.Start),
		End:                interval.FormatMinutes(s.Window.End),
		Address:            addressJSON{Text: s.Address.Text, Geo: s.Address.Geo},
		AgentStatus:        string(s.AgentStatus),
		AgentStatusDisplay: s.AgentStatus.DisplayName(),
		Step:               int(s.Step),
		StepDisplay:        s.Step.DisplayName(),
		Observation:        s.Observation,
		FinalOpinion:       s.FinalOpinionID,
		FinalOpinionUser:   s.FinalOpinionUser,
		GoingAt:            s.GoingAt,
		ArrivedAt:          s.ArrivedAt,
		StartedAt:          s.StartedAt,
		FinishedAt:         s.FinishedAt,
		CreatedAt:          s.CreatedAt,
	}
}

// bookBody is the POST /schedules payload.
type bookBody struct {
	Service     int64       `json:"serviceId"`
	Agent       int64       `json:"agent,omitempty"`
	Customer    int64       `json:"customer,omitempty"`
	Project     int64       `json:"project,omitempty"`
	Parents     []string    `json:"parents,omitempty"`
	Date        string      `json:"date"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	Address     addressJSON `json:"address"`
	Observation string      `json:"observation,omitempty"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var body bookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "invalid body: %v", err))
		return
	}
	date, err := interval.ParseDate(body.Date)
	if err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
		return
	}
	win, err := interval.ParseWindow(body.Start, body.End)
	if err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
		return
	}

	sched, err := s.scheduling.Book(r.Context(), scheduling.BookRequest{
		Actor:       actorFrom(r),
		ServiceID:   body.Service,
		AgentID:     body.Agent,
		CustomerID:  body.Customer,
		ProjectID:   body.Project,
		ParentIDs:   body.Parents,
		Date:        date,
		Window:      win,
		Address:     model.Address{Text: body.Address.Text, Geo: body.Address.Geo},
		Observation: body.Observation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleJSON(sched))
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.store.GetSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleJSON(sched))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var filter store.ScheduleFilter
	var err error
	if filter.ProjectID, err = idParam(r, "project"); err != nil {
		writeError(w, err)
		return
	}
	if filter.ServiceID, err = idParam(r, "service"); err != nil {
		writeError(w, err)
		return
	}
	if filter.AgentID, err = idParam(r, "agent"); err != nil {
		writeError(w, err)
		return
	}
	if raw := r.URL.Query().Get("date"); raw != "" {
		if filter.Date, err = interval.ParseDate(raw); err != nil {
			writeError(w, fault.New(fault.KindInvalidInterval, "%v", err))
			return
		}
	}

	schedules, err := s.store.ListSchedules(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]scheduleJSON, len(schedules))
	for i, sched := range schedules {
		out[i] = toScheduleJSON(sched)
	}
	writeJSON(w, http.StatusOK, out)
}

// patchBody drives PATCH /schedules/{id}: either a lifecycle action, an
// observation update, or reschedule fields.
type patchBody struct {
	Action      string       `json:"action,omitempty"`
	Agent       *int64       `json:"agent,omitempty"`
	Opinion     int64        `json:"opinion,omitempty"`
	Observation *string      `json:"observation,omitempty"`
	Date        *string      `json:"date,omitempty"`
	Start       *string      `json:"start,omitempty"`
	End         *string      `json:"end,omitempty"`
	Address     *addressJSON `json:"address,omitempty"`
}

func (s *Server) handlePatchSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := actorFrom(r)

	var body patchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fault.New(fault.KindInvalidInterval, "invalid body: %v", err))
		return
	}

	var (
		sched *model.Schedule
		err   error
	)
	switch body.Action {
	case "assign":
		if body.Agent == nil {
			writeError(w, fault.New(fault.KindInvalidInterval, "assign requires an agent"))
			return
		}
		sched, err = s.machine.Assign(r.Context(), actor, id, *body.Agent)
	case "markTraveling":
		sched, err = s.machine.MarkTraveling(r.Context(), actor, id)
	case "markArrived":
		sched, err = s.machine.MarkArrived(r.Context(), actor, id)
	case "startService":
		sched, err = s.machine.StartService(r.Context(), actor, id)
	case "finishService":
		sched, err = s.machine.FinishService(r.Context(), actor, id, body.Opinion)
	case "exchangeFinalOpinion":
		sched, err = s.machine.ExchangeFinalOpinion(r.Context(), actor, id, body.Opinion)
	case "":
		sched, err = s.patchFields(r, actor, id, body)
	default:
		writeError(w, fault.New(fault.KindInvalidInterval, "unknown action %q", body.Action))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleJSON(sched))
}

func (s *Server) patchFields(r *http.Request, actor model.Actor, id string, body patchBody) (*model.Schedule, error) {
	if body.Observation != nil && body.Date == nil && body.Start == nil && body.End == nil && body.Agent == nil && body.Address == nil {
		return s.scheduling.UpdateObservation(r.Context(), actor, id, *body.Observation)
	}

	req := scheduling.RescheduleRequest{AgentID: body.Agent}
	if body.Date != nil {
		date, err := interval.ParseDate(*body.Date)
		if err != nil {
			return nil, fault.New(fault.KindInvalidInterval, "%v", err)
		}
		req.Date = &date
	}
	if body.Start != nil || body.End != nil {
		if body.Start == nil || body.End == nil {
			return nil, fault.New(fault.KindInvalidInterval, "start and end must be given together")
		}
		win, err := interval.ParseWindow(*body.Start, *body.End)
		if err != nil {
			return nil, fault.New(fault.KindInvalidInterval, "%v", err)
		}
		req.Window = &win
	}
	if body.Address != nil {
		req.Address = &model.Address{Text: body.Address.Text, Geo: body.Address.Geo}
	}
	if req.AgentID == nil && req.Date == nil && req.Window == nil && req.Address == nil {
		return nil, fault.New(fault.KindInvalidInterval, "empty patch")
	}

	sched, err := s.scheduling.Reschedule(r.Context(), actor, id, req)
	if err != nil {
		return nil, err
	}
	if body.Observation != nil {
		return s.scheduling.UpdateObservation(r.Context(), actor, id, *body.Observation)
	}
	return sched, nil
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduling.Cancel(r.Context(), actorFrom(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
