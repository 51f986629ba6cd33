package api

import (
	"encoding/json"
	"net/http"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// windowJSON is an interval on the wire, HH:MM both ends.
type windowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toWindowJSON(iv interval.Interval) windowJSON {
	return windowJSON{Start: interval.FormatMinutes(iv.Start), End: interval.FormatMinutes(iv.End)}
}

func toWindowsJSON(ivs []interval.Interval) []windowJSON {
	out := make([]windowJSON, len(ivs))
	for i, iv := range ivs {
		out[i] = toWindowJSON(iv)
	}
	return out
}

// errorJSON is the error body: the reason plus whatever structured
// alternatives the fault carries.
type errorJSON struct {
	Error            string       `json:"error"`
	Reason           string       `json:"reason,omitempty"`
	FreeWindows      []windowJSON `json:"freeWindows,omitempty"`
	CandidateWindows []windowJSON `json:"candidateWindows,omitempty"`
	State            string       `json:"state,omitempty"`
	Attempted        string       `json:"attempted,omitempty"`
}

// statusForKind maps fault kinds to status codes. Availability verdicts
// answer 422 with structured alternatives; a lost commit race answers 409.
func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindInvalidInterval:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindOverlap, fault.KindIllegalTransition:
		return http.StatusConflict
	case fault.KindNoFreeWindow, fault.KindOutsideFreeWindow, fault.KindBlocked,
		fault.KindConflict, fault.KindNoInsertion:
		return http.StatusUnprocessableEntity
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	f := fault.As(err)
	if f == nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "internal error"})
		return
	}
	writeJSON(w, statusForKind(f.Kind), errorJSON{
		Error:            f.Message,
		Reason:           string(f.Kind),
		FreeWindows:      toWindowsJSON(f.FreeWindows),
		CandidateWindows: toWindowsJSON(f.CandidateWindows),
		State:            f.State,
		Attempted:        f.Attempted,
	})
}

// writeCalendarError is writeError for calendar writes, where Conflict
// means a duplicate entry rather than an availability verdict.
func writeCalendarError(w http.ResponseWriter, err error) {
	if fault.IsKind(err, fault.KindConflict) {
		f := fault.As(err)
		writeJSON(w, http.StatusConflict, errorJSON{Error: f.Message, Reason: string(f.Kind)})
		return
	}
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// actorFrom reads the acting identity from request headers. Capabilities
// arrive comma-separated in X-Capabilities.
func actorFrom(r *http.Request) model.Actor {
	actor := model.Actor{ID: r.Header.Get("X-Actor-Id")}
	if raw := r.Header.Get("X-Agent-Id"); raw != "" {
		if id, err := parseID(raw); err == nil {
			actor.AgentID = id
		}
	}
	if raw := r.Header.Get("X-Capabilities"); raw != "" {
		actor.Capabilities = splitComma(raw)
	}
	return actor
}
