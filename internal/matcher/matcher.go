// Package matcher coordinates a ride request end to end: it finds nearby
// captains, creates the ride, offers it to every connected captain, and tells
// the rider about each later status change.
package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ride"
)

type Rides interface {
	Create(ctx context.Context, riderID, pickup, destination string, class models.VehicleClass) (*models.Ride, error)
	Confirm(ctx context.Context, rideID, driverID string) (*models.Ride, error)
	Start(ctx context.Context, rideID, otp string) (*models.Ride, error)
	End(ctx context.Context, rideID string) (*models.Ride, error)
	Cancel(ctx context.Context, rideID string) (*models.Ride, error)
	ExpirePending(ctx context.Context, olderThan time.Duration) ([]*models.Ride, error)
}

type Geocoder interface {
	ResolveAddress(ctx context.Context, text string) (models.Coord, error)
}

type Notifier interface {
	Notify(ctx context.Context, actorID string, actorType models.ActorType, event string, payload any) bool
}

type EventPublisher interface {
	PublishRideEvent(ctx context.Context, r models.Ride) error
}

type Service struct {
	Rides    Rides
	Geo      geo.Finder
	Maps     Geocoder
	Notifier Notifier
	Events   EventPublisher // optional
	RadiusKm float64
	Logger   *slog.Logger
}

// Request is the outcome of RequestRide.
type Request struct {
	Ride   *models.Ride `json:"ride"`
	Offers int          `json:"offers"`
	Nearby int          `json:"nearby"`
}

// RequestRide creates a pending ride and offers it to every captain within
// the match radius of the pickup who is connected right now. Offers are best
// effort; the ride stays pending until a captain confirms it.
func (s *Service) RequestRide(ctx context.Context, riderID, pickup, destination string, class models.VehicleClass) (*Request, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if err := ride.ValidateRequest(riderID, pickup, destination, class); err != nil {
		return nil, err
	}
	at, err := s.Maps.ResolveAddress(ctx, pickup)
	if err != nil {
		return nil, err
	}
	drivers, err := s.Geo.FindDriversNear(ctx, at.Lat, at.Lng, s.RadiusKm)
	if err != nil {
		return nil, err
	}
	r, err := s.Rides.Create(ctx, riderID, pickup, destination, class)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, r)

	observability.OfferFanout.Observe(float64(len(drivers)))
	offer := dispatch.RideMessage{Ride: r.WithoutOTP()}
	sent := 0
	for _, d := range drivers {
		if s.Notifier.Notify(ctx, d.ID, models.ActorDriver, dispatch.EventNewRide, offer) {
			sent++
		}
	}
	observability.OffersSent.Add(float64(sent))
	s.Logger.Info("ride offered", "ride_id", r.ID, "nearby", len(drivers), "offers", sent, "radius_km", s.RadiusKm)
	return &Request{Ride: r, Offers: sent, Nearby: len(drivers)}, nil
}

func (s *Service) Confirm(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	r, err := s.Rides.Confirm(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, r, dispatch.EventRideConfirmed)
	return r, nil
}

func (s *Service) Start(ctx context.Context, rideID, otp string) (*models.Ride, error) {
	r, err := s.Rides.Start(ctx, rideID, otp)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, r, dispatch.EventRideStarted)
	return r, nil
}

func (s *Service) End(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := s.Rides.End(ctx, rideID)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, r, dispatch.EventRideEnded)
	return r, nil
}

func (s *Service) Cancel(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := s.Rides.Cancel(ctx, rideID)
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, r, dispatch.EventRideCancelled)
	return r, nil
}

// Expire cancels rides nobody confirmed within olderThan.
func (s *Service) Expire(ctx context.Context, olderThan time.Duration) (int, error) {
	expired, err := s.Rides.ExpirePending(ctx, olderThan)
	for _, r := range expired {
		s.afterTransition(ctx, r, dispatch.EventRideCancelled)
	}
	return len(expired), err
}

// afterTransition tells the parties about a change that has already been
// committed. Nothing here can fail the operation.
func (s *Service) afterTransition(ctx context.Context, r *models.Ride, event string) {
	if !s.Notifier.Notify(ctx, r.RiderID, models.ActorRider, event, dispatch.RideMessage{Ride: *r}) {
		s.Logger.Info("rider not notified", "ride_id", r.ID, "event", event)
	}
	if event == dispatch.EventRideCancelled && r.DriverID != "" {
		s.Notifier.Notify(ctx, r.DriverID, models.ActorDriver, event, dispatch.RideMessage{Ride: r.WithoutOTP()})
	}
	s.publish(ctx, r)
}

func (s *Service) publish(ctx context.Context, r *models.Ride) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishRideEvent(ctx, *r); err != nil {
		s.Logger.Error("ride event publish failed", "ride_id", r.ID, "status", r.Status, "error", err)
	}
}
