// Package fault defines the domain error taxonomy for the scheduling engine.
// Domain failures are values handed back to the caller with enough structure
// to act on (remaining free windows, alternative insertion windows, the
// rejected transition). Only infrastructure failures travel as wrapped
// opaque errors.
package fault

import (
	"errors"
	"fmt"

	"github.com/fieldsvc/dispatchd/internal/interval"
)

// Kind classifies a domain failure.
type Kind string

const (
	KindInvalidInterval   Kind = "InvalidInterval"
	KindNotFound          Kind = "NotFound"
	KindNoFreeWindow      Kind = "NoFreeWindow"
	KindOutsideFreeWindow Kind = "OutsideFreeWindow"
	KindBlocked           Kind = "Blocked"
	KindConflict          Kind = "Conflict"
	KindOverlap           Kind = "Overlap"
	KindNoInsertion       Kind = "NoInsertion"
	KindForbidden         Kind = "Forbidden"
	KindTimeout           Kind = "Timeout"
	KindIllegalTransition Kind = "IllegalTransition"
)

// Fault is a structured domain error.
type Fault struct {
	Kind    Kind
	Message string

	// FreeWindows carries the remaining free sub-windows for availability
	// rejections; CandidateWindows carries feasible alternative insertion
	// windows for NoInsertion.
	FreeWindows      []interval.Interval
	CandidateWindows []interval.Interval

	// State and Attempted describe a rejected lifecycle transition.
	State     string
	Attempted string
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return string(f.Kind)
}

// New creates a bare fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IllegalTransition creates a rejected state-machine transition fault.
func IllegalTransition(state, attempted string) *Fault {
	return &Fault{
		Kind:      KindIllegalTransition,
		Message:   fmt.Sprintf("cannot apply %s in state %s", attempted, state),
		State:     state,
		Attempted: attempted,
	}
}

// As extracts a *Fault from an error chain, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// KindOf returns the fault kind of err, or the empty kind for
// infrastructure errors.
func KindOf(err error) Kind {
	if f := As(err); f != nil {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err is a domain fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
