package travel

import (
	"context"
	"sync"

	"github.com/fieldsvc/dispatchd/internal/model"
)

// Memo caches resolver answers for the duration of one request. Keys are
// directional: (a, b) and (b, a) are cached independently.
type Memo struct {
	resolver *Resolver

	mu    sync.Mutex
	cache map[pairKey]int
}

type pairKey struct {
	fromLat, fromLon float64
	toLat, toLon     float64
}

// NewMemo wraps a resolver with a fresh per-request cache.
func NewMemo(resolver *Resolver) *Memo {
	return &Memo{
		resolver: resolver,
		cache:    make(map[pairKey]int),
	}
}

// Estimate returns travel minutes between two addresses, consulting the
// cache first. Pairs without coordinates bypass the cache; the resolver
// answers those with a constant.
func (m *Memo) Estimate(ctx context.Context, from, to *model.Geo) int {
	if from == nil || to == nil {
		return m.resolver.Estimate(ctx, from, to)
	}

	key := pairKey{fromLat: from.Lat, fromLon: from.Lon, toLat: to.Lat, toLon: to.Lon}
	m.mu.Lock()
	if minutes, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return minutes
	}
	m.mu.Unlock()

	minutes := m.resolver.Estimate(ctx, from, to)

	m.mu.Lock()
	m.cache[key] = minutes
	m.mu.Unlock()
	return minutes
}
