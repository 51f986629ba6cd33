// Package travel estimates door-to-door travel time between visit
// addresses. The primary source is an external travel oracle reached over
// HTTP; when the oracle fails or the deadline elapses the estimate falls
// back to great-circle distance at a configured average speed, and when
// coordinates are missing altogether a configured default is used.
package travel

import (
	"context"

	"github.com/fieldsvc/dispatchd/internal/model"
)

// Port supplies travel minutes between two coordinates. Estimates are
// directional: Minutes(a, b) and Minutes(b, a) are independent lookups.
type Port interface {
	Minutes(ctx context.Context, from, to model.Geo) (int, error)
}

// Counter is the slice of prometheus.Counter the resolver needs to count
// oracle fallbacks.
type Counter interface {
	Inc()
}

// Resolver is the travel source the optimizer uses: oracle first, fallback
// on error, default minutes when either endpoint has no coordinates. It
// never fails; degraded answers are counted, not surfaced.
type Resolver struct {
	oracle         Port
	fallback       Fallback
	defaultMinutes int
	fallbacks      Counter
}

// NewResolver builds a resolver. oracle may be nil when no oracle is
// configured; every lookup then uses the fallback directly.
func NewResolver(oracle Port, fallback Fallback, defaultMinutes int, fallbacks Counter) *Resolver {
	return &Resolver{
		oracle:         oracle,
		fallback:       fallback,
		defaultMinutes: defaultMinutes,
		fallbacks:      fallbacks,
	}
}

// Estimate returns travel minutes between two addresses. Either address
// missing coordinates yields the configured default.
func (r *Resolver) Estimate(ctx context.Context, from, to *model.Geo) int {
	if from == nil || to == nil {
		return r.defaultMinutes
	}
	if r.oracle != nil {
		minutes, err := r.oracle.Minutes(ctx, *from, *to)
		if err == nil {
			return minutes
		}
		if r.fallbacks != nil {
			r.fallbacks.Inc()
		}
	}
	minutes, err := r.fallback.Minutes(ctx, *from, *to)
	if err != nil {
		return r.defaultMinutes
	}
	return minutes
}
