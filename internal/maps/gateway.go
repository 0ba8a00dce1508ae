package maps

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/models"
)

// Gateway turns free-text addresses into coordinates and coordinate pairs into
// driving distance and duration.
type Gateway interface {
	ResolveAddress(ctx context.Context, text string) (models.Coord, error)
	RouteDistanceDuration(ctx context.Context, origin, destination string) (Route, error)
	Autocomplete(ctx context.Context, text string) ([]string, error)
	Quote(ctx context.Context, pickup, destination string) (Quote, error)
}

type Route struct {
	DistanceKm  float64 `json:"distance"`
	DurationMin float64 `json:"duration"`
}

type Quote struct {
	Route
	Fares fare.Fares `json:"fare"`
}

// Origin and destination that compare equal as strings are not routed.
var sameSpotRoute = Route{DistanceKm: 0.1, DurationMin: 1}

const suggestionLimit = 5

type Geocoder interface {
	Search(ctx context.Context, q string, limit int, details bool) ([]Place, error)
}

type Router interface {
	Directions(ctx context.Context, from, to models.Coord) (meters, seconds float64, err error)
}

// Service is the Gateway used by the server. Provider calls are made once
// with no retry.
type Service struct {
	geocoder    Geocoder
	router      Router
	coords      *Cache[models.Coord]
	routes      *Cache[Route]
	suggestions *Cache[[]string]
}

func NewService(geocoder Geocoder, router Router, cacheTTL time.Duration) *Service {
	return &Service{
		geocoder:    geocoder,
		router:      router,
		coords:      NewCache[models.Coord](cacheTTL),
		routes:      NewCache[Route](cacheTTL),
		suggestions: NewCache[[]string](cacheTTL),
	}
}

func (s *Service) ResolveAddress(ctx context.Context, text string) (models.Coord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Coord{}, errs.E(errs.Validation, "address is required")
	}
	if c, ok := s.coords.Get(text); ok {
		return c, nil
	}
	places, err := s.geocoder.Search(ctx, text, 1, false)
	if err != nil {
		return models.Coord{}, err
	}
	if len(places) == 0 {
		return models.Coord{}, errs.E(errs.NotFound, "address not found")
	}
	s.coords.Set(text, places[0].Coord)
	return places[0].Coord, nil
}

func (s *Service) RouteDistanceDuration(ctx context.Context, origin, destination string) (Route, error) {
	from, err := ParseCoord(origin)
	if err != nil {
		return Route{}, err
	}
	to, err := ParseCoord(destination)
	if err != nil {
		return Route{}, err
	}
	if origin == destination {
		return sameSpotRoute, nil
	}
	key := origin + "->" + destination
	if r, ok := s.routes.Get(key); ok {
		return r, nil
	}
	meters, seconds, err := s.router.Directions(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	r := Route{DistanceKm: round2(meters / 1000), DurationMin: round2(seconds / 60)}
	s.routes.Set(key, r)
	return r, nil
}

func (s *Service) Autocomplete(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.E(errs.Validation, "input is required")
	}
	if v, ok := s.suggestions.Get(text); ok {
		return v, nil
	}
	places, err := s.geocoder.Search(ctx, text, suggestionLimit, true)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(places))
	for _, p := range places {
		out = append(out, p.DisplayName)
	}
	s.suggestions.Set(text, out)
	return out, nil
}

// Quote prices a trip between two free-text addresses for every vehicle class.
func (s *Service) Quote(ctx context.Context, pickup, destination string) (Quote, error) {
	if strings.TrimSpace(pickup) == "" || strings.TrimSpace(destination) == "" {
		return Quote{}, errs.E(errs.Validation, "pickup and destination are required")
	}
	from, err := s.ResolveAddress(ctx, pickup)
	if err != nil {
		return Quote{}, err
	}
	to, err := s.ResolveAddress(ctx, destination)
	if err != nil {
		return Quote{}, err
	}
	r, err := s.RouteDistanceDuration(ctx, FormatCoord(from), FormatCoord(to))
	if err != nil {
		return Quote{}, err
	}
	if err := fare.Validate(r.DistanceKm, r.DurationMin); err != nil {
		return Quote{}, err
	}
	return Quote{Route: r, Fares: fare.Compute(r.DistanceKm, r.DurationMin)}, nil
}

// ParseCoord reads a "lat,lng" string.
func ParseCoord(s string) (models.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Coord{}, errs.E(errs.Validation, "coordinates must be \"lat,lng\"")
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, errs.E(errs.Validation, "coordinates must be numeric")
	}
	c := models.Coord{Lat: lat, Lng: lng}
	if !ValidCoord(c) {
		return models.Coord{}, errs.E(errs.Validation, "coordinates out of range")
	}
	return c, nil
}

func FormatCoord(c models.Coord) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// ValidCoord reports whether c is finite and within WGS84 bounds.
func ValidCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
