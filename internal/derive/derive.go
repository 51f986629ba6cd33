// Package derive computes downstream project flags from a project's visit
// history. The derivations are stateless: callers assemble the facts, the
// functions answer booleans and a status. Nothing here is persisted.
package derive

import "strings"

// Visit categories the derivations care about.
const (
	CategoryInspection   = "inspection"
	CategoryInstallation = "installation"
)

// VisitFact is the slice of a schedule the derivations read: its service
// category and the name of its final opinion, empty while unset.
type VisitFact struct {
	Category     string
	FinalOpinion string
	Cancelled    bool
}

// ProjectFacts gathers a project's state as seen by the field-services
// system. Visits are in creation order; "last" below means latest created.
type ProjectFacts struct {
	PaymentApproved  bool
	PreSale          bool
	SaleCancelled    bool
	BillAttachment   bool
	NewContract      bool
	ConstructionDone bool
	Visits           []VisitFact
}

// InstallationStatus is the project-level installation rollup.
type InstallationStatus string

const (
	StatusInstalled         InstallationStatus = "Installed"
	StatusCancelled         InstallationStatus = "Cancelled"
	StatusScheduled         InstallationStatus = "Scheduled"
	StatusUnderConstruction InstallationStatus = "UnderConstruction"
	StatusBlocked           InstallationStatus = "Blocked"
	StatusReleased          InstallationStatus = "Released"
)

// InspectionPassed reports whether the project has a completed inspection
// whose final opinion reads as approved.
func InspectionPassed(visits []VisitFact) bool {
	for _, v := range visits {
		if v.Cancelled {
			continue
		}
		if strings.EqualFold(v.Category, CategoryInspection) && opinionContains(v.FinalOpinion, "approved") {
			return true
		}
	}
	return false
}

// ReleasedToEngineering decides whether engineering may pick the project
// up: payment approved, the last inspection approved, the sale real and
// alive, and at least one unit documented by a bill or a new contract.
func ReleasedToEngineering(f ProjectFacts) bool {
	if !f.PaymentApproved || f.PreSale || f.SaleCancelled {
		return false
	}
	if !f.BillAttachment && !f.NewContract {
		return false
	}
	last, ok := lastVisit(f.Visits, CategoryInspection)
	return ok && opinionContains(last.FinalOpinion, "approved")
}

// DeriveInstallationStatus rolls the project up to a single installation
// status. Rules apply in precedence order; the first match wins.
func DeriveInstallationStatus(f ProjectFacts) InstallationStatus {
	if f.PreSale {
		return StatusBlocked
	}
	if f.SaleCancelled {
		return StatusCancelled
	}

	if last, ok := lastVisit(f.Visits, CategoryInstallation); ok {
		switch {
		case opinionContains(last.FinalOpinion, "completed"):
			return StatusInstalled
		case opinionContains(last.FinalOpinion, "cancel"):
			return StatusCancelled
		case last.FinalOpinion == "":
			return StatusScheduled
		}
	}

	if !f.ConstructionDone {
		return StatusUnderConstruction
	}
	if !ReleasedToEngineering(f) {
		return StatusBlocked
	}
	return StatusReleased
}

// lastVisit finds the latest non-cancelled visit of a category.
func lastVisit(visits []VisitFact, category string) (VisitFact, bool) {
	for i := len(visits) - 1; i >= 0; i-- {
		if !visits[i].Cancelled && strings.EqualFold(visits[i].Category, category) {
			return visits[i], true
		}
	}
	return VisitFact{}, false
}

func opinionContains(opinion, needle string) bool {
	return opinion != "" && strings.Contains(strings.ToLower(opinion), needle)
}
