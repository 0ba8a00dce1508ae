package fare

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		km, mins float64
		want     Fares
	}{
		{name: "zero trip is base fare", km: 0, mins: 0, want: Fares{Auto: 30, Car: 50, Moto: 20}},
		{name: "same point minimum", km: 0.1, mins: 1, want: Fares{Auto: 33, Car: 55, Moto: 22}},
		{name: "city trip", km: 5.42, mins: 14.3, want: Fares{Auto: 113, Car: 174, Moto: 85}},
		{name: "half rounds up", km: 0, mins: 1.5, want: Fares{Auto: 33, Car: 55, Moto: 22}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.km, tt.mins))
		})
	}
}

func TestComputeIsMonotonic(t *testing.T) {
	classes := []models.VehicleClass{models.VehicleAuto, models.VehicleCar, models.VehicleMoto}
	for _, class := range classes {
		prev := int64(-1)
		for km := 0.0; km <= 50; km += 0.37 {
			got, err := Compute(km, 12).For(class)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, prev, "class %s km %.2f", class, km)
			prev = got
		}
		prev = -1
		for mins := 0.0; mins <= 120; mins += 0.7 {
			got, err := Compute(8, mins).For(class)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, prev, "class %s mins %.2f", class, mins)
			prev = got
		}
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(0, 0))
	assert.NoError(t, Validate(12.5, 30))

	for _, bad := range [][2]float64{
		{-1, 2},
		{1, -2},
		{math.NaN(), 1},
		{1, math.Inf(1)},
	} {
		err := Validate(bad[0], bad[1])
		assert.ErrorIs(t, err, errs.InvalidFareInput, "%v", bad)
	}
}

func TestForUnknownClass(t *testing.T) {
	_, err := Compute(1, 1).For("bus")
	assert.ErrorIs(t, err, errs.Validation)
}
