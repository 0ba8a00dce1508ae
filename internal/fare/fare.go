// Package fare prices a trip for every vehicle class from its routed distance
// and duration.
package fare

import (
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Rate is the pricing of a single vehicle class.
type Rate struct {
	Base      float64
	PerKm     float64
	PerMinute float64
}

var rates = map[models.VehicleClass]Rate{
	models.VehicleAuto: {Base: 30, PerKm: 10, PerMinute: 2},
	models.VehicleCar:  {Base: 50, PerKm: 15, PerMinute: 3},
	models.VehicleMoto: {Base: 20, PerKm: 8, PerMinute: 1.5},
}

// Fares holds one price per vehicle class in whole currency units.
type Fares struct {
	Auto int64 `json:"auto"`
	Car  int64 `json:"car"`
	Moto int64 `json:"moto"`
}

func (f Fares) For(class models.VehicleClass) (int64, error) {
	switch class {
	case models.VehicleAuto:
		return f.Auto, nil
	case models.VehicleCar:
		return f.Car, nil
	case models.VehicleMoto:
		return f.Moto, nil
	}
	return 0, errs.E(errs.Validation, fmt.Sprintf("unknown vehicle type %q", class))
}

// Validate rejects distances and durations that cannot be priced.
func Validate(distanceKm, durationMin float64) error {
	for name, v := range map[string]float64{"distance": distanceKm, "duration": durationMin} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errs.E(errs.InvalidFareInput, fmt.Sprintf("invalid %s %v", name, v))
		}
	}
	return nil
}

// Compute assumes its inputs passed Validate.
func Compute(distanceKm, durationMin float64) Fares {
	return Fares{
		Auto: price(rates[models.VehicleAuto], distanceKm, durationMin),
		Car:  price(rates[models.VehicleCar], distanceKm, durationMin),
		Moto: price(rates[models.VehicleMoto], distanceKm, durationMin),
	}
}

func price(r Rate, distanceKm, durationMin float64) int64 {
	return roundHalfUp(r.Base + distanceKm*r.PerKm + durationMin*r.PerMinute)
}

// math.Round rounds half away from zero; prices are never negative, but keep
// half-up explicit.
func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
