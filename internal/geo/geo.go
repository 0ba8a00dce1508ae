package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// Finder answers "which drivers are within radiusKm of this point", nearest
// first. The radius is inclusive.
type Finder interface {
	FindDriversNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Driver, error)
}

// Locator receives driver location announcements for indexes that keep their
// own copy of driver positions.
type Locator interface {
	UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error
}

// DriverSource is the slice of the driver table the scanner needs.
type DriverSource interface {
	ListLocatedDrivers(ctx context.Context) ([]models.Driver, error)
}

// Scanner compares the query point against every located driver. Fine for a
// small fleet.
type Scanner struct {
	Drivers DriverSource
}

func (s *Scanner) FindDriversNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Driver, error) {
	drivers, err := s.Drivers.ListLocatedDrivers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "list drivers")
	}
	return WithinRadius(lat, lng, radiusKm, drivers), nil
}

// WithinRadius keeps drivers whose haversine distance is <= radiusKm and sorts
// them by distance, breaking ties by id.
func WithinRadius(lat, lng, radiusKm float64, drivers []models.Driver) []models.Driver {
	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(drivers))
	for _, d := range drivers {
		if d.Location == nil {
			continue
		}
		dist := HaversineKm(lat, lng, d.Location.Lat, d.Location.Lng)
		if dist <= radiusKm {
			arr = append(arr, pair{d, dist})
		}
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].d.ID < arr[j].d.ID
	})
	out := make([]models.Driver, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.d)
	}
	return out
}

// Index keeps driver positions in memory. Used for local runs without a
// database and in tests.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(d models.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
}

func (g *Index) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.drivers[driverID]
	d.ID = driverID
	d.Location = &loc
	d.Updated = time.Now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) ListLocatedDrivers(ctx context.Context) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Driver, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Location != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (g *Index) FindDriversNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Driver, error) {
	drivers, _ := g.ListLocatedDrivers(ctx)
	return WithinRadius(lat, lng, radiusKm, drivers), nil
}

// HaversineKm is the great-circle distance in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
