package geo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	assert.Zero(t, HaversineKm(0, 0, 0, 0))
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude along a meridian.
	assert.InDelta(t, 111.19, HaversineKm(10, 20, 11, 20), 0.01)
	// Bengaluru to Mysuru, roughly 128 km as the crow flies.
	assert.InDelta(t, 128, HaversineKm(12.9716, 77.5946, 12.2958, 76.6394), 2)
}

func driverAt(id string, lat, lng float64) models.Driver {
	return models.Driver{Actor: models.Actor{ID: id}, Location: &models.Coord{Lat: lat, Lng: lng}}
}

func ids(drivers []models.Driver) []string {
	out := make([]string, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, d.ID)
	}
	return out
}

func TestWithinRadiusOrdersAndFilters(t *testing.T) {
	drivers := []models.Driver{
		driverAt("far", 0, 1),
		driverAt("mid", 0, 0.05),
		driverAt("near", 0, 0.01),
		{Actor: models.Actor{ID: "nowhere"}},
	}
	got := WithinRadius(0, 0, 10, drivers)
	assert.Equal(t, []string{"near", "mid"}, ids(got))
}

func TestWithinRadiusIsInclusive(t *testing.T) {
	d := driverAt("edge", 0.1, 0.1)
	exact := HaversineKm(0, 0, 0.1, 0.1)

	assert.Equal(t, []string{"edge"}, ids(WithinRadius(0, 0, exact, []models.Driver{d})))
	assert.Empty(t, WithinRadius(0, 0, math.Nextafter(exact, 0), []models.Driver{d}))
}

func TestWithinRadiusNeverExceedsRadius(t *testing.T) {
	var drivers []models.Driver
	for i := 0; i < 200; i++ {
		lat := 12.9 + float64(i%20)*0.01
		lng := 77.5 + float64(i/20)*0.013
		drivers = append(drivers, driverAt(string(rune('A'+i%26))+string(rune('a'+i/26)), lat, lng))
	}
	const radius = 6.5
	got := WithinRadius(12.97, 77.59, radius, drivers)
	require.NotEmpty(t, got)

	prev := -1.0
	for _, d := range got {
		dist := HaversineKm(12.97, 77.59, d.Location.Lat, d.Location.Lng)
		assert.LessOrEqual(t, dist, radius)
		assert.GreaterOrEqual(t, dist, prev)
		prev = dist
	}
	inside := 0
	for _, d := range drivers {
		if HaversineKm(12.97, 77.59, d.Location.Lat, d.Location.Lng) <= radius {
			inside++
		}
	}
	assert.Len(t, got, inside)
}

func TestWithinRadiusTiesByID(t *testing.T) {
	got := WithinRadius(0, 0, 5, []models.Driver{driverAt("b", 0, 0.01), driverAt("a", 0, 0.01)})
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

type failingSource struct{}

func (failingSource) ListLocatedDrivers(ctx context.Context) ([]models.Driver, error) {
	return nil, errors.New("table locked")
}

func TestScannerSurfacesStorageError(t *testing.T) {
	s := &Scanner{Drivers: failingSource{}}
	_, err := s.FindDriversNear(context.Background(), 0, 0, 1)
	assert.ErrorIs(t, err, errs.Storage)
}

func TestScannerEmptyIsNotAnError(t *testing.T) {
	s := &Scanner{Drivers: NewIndex()}
	got, err := s.FindDriversNear(context.Background(), 0, 0, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexUpdateLocation(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	idx.Upsert(models.Driver{Actor: models.Actor{ID: "c1", FirstName: "Ravi"}})
	require.NoError(t, idx.UpdateLocation(ctx, "c1", models.Coord{Lat: 1, Lng: 1}))

	got, err := idx.FindDriversNear(ctx, 1, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ravi", got[0].FirstName)
}
