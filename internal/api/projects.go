package api

import (
	"net/http"
	"strconv"

	"github.com/fieldsvc/dispatchd/internal/derive"
	"github.com/fieldsvc/dispatchd/internal/model"
	"github.com/fieldsvc/dispatchd/internal/store"
)

// projectFlagsJSON answers GET /projects/{project}/flags.
type projectFlagsJSON struct {
	Project               int64  `json:"project"`
	InspectionPassed      bool   `json:"inspectionPassed"`
	ReleasedToEngineering bool   `json:"releasedToEngineering"`
	InstallationStatus    string `json:"installationStatus"`
	Visits                int    `json:"visits"`
}

// handleProjectFlags derives the downstream project flags from the
// project's visit history. Facts the field-services system does not own
// (payment, sale, construction state) arrive as query parameters from the
// calling system.
func (s *Server) handleProjectFlags(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project")
	if err != nil {
		writeError(w, err)
		return
	}

	schedules, err := s.store.ListSchedules(r.Context(), store.ScheduleFilter{ProjectID: projectID})
	if err != nil {
		writeError(w, err)
		return
	}

	// Listing answers newest first; the derivations read creation order.
	visits := make([]derive.VisitFact, 0, len(schedules))
	for i := len(schedules) - 1; i >= 0; i-- {
		sched := schedules[i]

		fact := derive.VisitFact{Cancelled: sched.AgentStatus == model.AgentCancelled}
		if svc, err := s.store.GetService(r.Context(), sched.ServiceID); err == nil {
			fact.Category = svc.Category
		}
		if sched.FinalOpinionID != 0 {
			if op, err := s.store.GetOpinion(r.Context(), sched.FinalOpinionID); err == nil {
				fact.FinalOpinion = op.Name
			}
		}
		visits = append(visits, fact)
	}

	facts := derive.ProjectFacts{
		PaymentApproved:  boolParam(r, "paymentApproved"),
		PreSale:          boolParam(r, "preSale"),
		SaleCancelled:    boolParam(r, "saleCancelled"),
		BillAttachment:   boolParam(r, "billAttachment"),
		NewContract:      boolParam(r, "newContract"),
		ConstructionDone: boolParam(r, "constructionDone"),
		Visits:           visits,
	}

	writeJSON(w, http.StatusOK, projectFlagsJSON{
		Project:               projectID,
		InspectionPassed:      derive.InspectionPassed(visits),
		ReleasedToEngineering: derive.ReleasedToEngineering(facts),
		InstallationStatus:    string(derive.DeriveInstallationStatus(facts)),
		Visits:                len(visits),
	})
}

// boolParam reads a boolean query parameter, false when absent or invalid.
func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
