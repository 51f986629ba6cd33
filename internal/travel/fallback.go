package travel

import (
	"context"
	"fmt"
	"math"

	"github.com/fieldsvc/dispatchd/internal/model"
)

const earthRadiusKm = 6371.0

// Fallback estimates travel time as great-circle distance at a configured
// average road speed, rounded up to whole minutes.
type Fallback struct {
	Kmh float64
}

// Minutes implements Port.
func (f Fallback) Minutes(_ context.Context, from, to model.Geo) (int, error) {
	if f.Kmh <= 0 {
		return 0, fmt.Errorf("average speed must be positive, got %v km/h", f.Kmh)
	}
	km := haversineKm(from, to)
	return int(math.Ceil(km / f.Kmh * 60)), nil
}

// haversineKm computes the great-circle distance between two coordinates.
func haversineKm(a, b model.Geo) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
