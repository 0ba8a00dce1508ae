// Package ride owns the ride record: creation with fare and OTP, and every
// status change after that. Each change is a single conditional update in the
// store keyed on the ride id and the status it is expected to be in.
package ride

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const OTPLength = 6

var otpSpace = big.NewInt(1_000_000)

type Quoter interface {
	Quote(ctx context.Context, pickup, destination string) (maps.Quote, error)
}

type Store interface {
	storage.RideStore
	GetRider(ctx context.Context, id string) (*models.Rider, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
}

type Service struct {
	store  Store
	quoter Quoter
	logger *slog.Logger
	now    func() time.Time
	otp    func() (string, error)
	newID  func() string
}

func NewService(store Store, quoter Quoter, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		quoter: quoter,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		otp:    NewOTP,
		newID:  func() string { return uuid.NewString() },
	}
}

// NewOTP draws a numeric passcode uniformly from 000000-999999.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

// ValidateRequest checks a ride request's inputs without touching the store or
// the map providers.
func ValidateRequest(riderID, pickup, destination string, class models.VehicleClass) error {
	if strings.TrimSpace(riderID) == "" || strings.TrimSpace(pickup) == "" ||
		strings.TrimSpace(destination) == "" || class == "" {
		return errs.E(errs.Validation, "userId, pickup, destination and vehicleType are required")
	}
	if !class.Valid() {
		return errs.E(errs.Validation, fmt.Sprintf("unknown vehicle type %q", class))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, riderID, pickup, destination string, class models.VehicleClass) (_ *models.Ride, err error) {
	ctx, span := observability.Tracer().Start(ctx, "ride.Create")
	defer func() { endSpan(span, err) }()

	if err := ValidateRequest(riderID, pickup, destination, class); err != nil {
		return nil, err
	}
	rider, err := s.store.GetRider(ctx, riderID)
	if err != nil {
		return nil, storage.Classify(err, "rider")
	}

	q, err := s.quoter.Quote(ctx, pickup, destination)
	if err != nil {
		return nil, err
	}
	price, err := q.Fares.For(class)
	if err != nil {
		return nil, err
	}
	otp, err := s.otp()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "generate otp")
	}

	now := s.now()
	r := &models.Ride{
		ID:           s.newID(),
		RiderID:      riderID,
		Pickup:       pickup,
		Destination:  destination,
		VehicleClass: class,
		Fare:         price,
		OTP:          otp,
		Status:       models.RidePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateRide(ctx, r); err != nil {
		return nil, storage.Classify(err, "ride")
	}
	observability.RidesCreated.WithLabelValues(string(class)).Inc()
	span.SetAttributes(attribute.String("ride.id", r.ID))
	s.logger.Info("ride created", "ride_id", r.ID, "rider_id", riderID, "vehicle_type", class, "fare", price)

	p := rider.Profile()
	r.Rider = &p
	return r, nil
}

// Confirm assigns driverID to a pending ride. Exactly one of several
// concurrent confirmations succeeds; the rest get InvalidState.
func (s *Service) Confirm(ctx context.Context, rideID, driverID string) (_ *models.Ride, err error) {
	ctx, span := s.start(ctx, "ride.Confirm", rideID)
	defer func() { endSpan(span, err) }()

	if rideID == "" || driverID == "" {
		return nil, errs.E(errs.Validation, "rideId and captainId are required")
	}
	r, err := s.transition(ctx, rideID, storage.Transition{
		From:     models.RidePending,
		To:       models.RideAccepted,
		DriverID: driverID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ride confirmed", "ride_id", rideID, "captain_id", driverID)
	return s.enrich(ctx, r)
}

// Start moves an accepted ride to ongoing when otp matches. A wrong otp never
// mutates the ride and may be retried.
func (s *Service) Start(ctx context.Context, rideID, otp string) (_ *models.Ride, err error) {
	ctx, span := s.start(ctx, "ride.Start", rideID)
	defer func() { endSpan(span, err) }()

	if rideID == "" {
		return nil, errs.E(errs.Validation, "rideId is required")
	}
	var r *models.Ride
	if otp == "" {
		// An empty OTP would turn the conditional update into an unchecked one.
		err = storage.ErrPrecondition
	} else {
		r, err = s.store.TransitionRide(ctx, rideID, storage.Transition{
			From:  models.RideAccepted,
			To:    models.RideOngoing,
			OTP:   otp,
			At:    s.now(),
			Start: true,
		})
	}
	if errors.Is(err, storage.ErrPrecondition) {
		cur, gerr := s.store.GetRide(ctx, rideID)
		switch {
		case gerr != nil:
			err = storage.Classify(gerr, "ride")
		case cur.Status != models.RideAccepted:
			err = invalidState(cur, models.RideOngoing)
		default:
			err = errs.E(errs.InvalidOtp, "invalid OTP")
		}
	}
	if err != nil {
		observability.RideTransitions.WithLabelValues(string(models.RideOngoing), outcome(err)).Inc()
		return nil, storage.Classify(err, "ride")
	}
	observability.RideTransitions.WithLabelValues(string(models.RideOngoing), "ok").Inc()
	s.logger.Info("ride started", "ride_id", rideID)
	return s.enrich(ctx, r)
}

func (s *Service) End(ctx context.Context, rideID string) (_ *models.Ride, err error) {
	ctx, span := s.start(ctx, "ride.End", rideID)
	defer func() { endSpan(span, err) }()

	if rideID == "" {
		return nil, errs.E(errs.Validation, "rideId is required")
	}
	r, err := s.transition(ctx, rideID, storage.Transition{
		From: models.RideOngoing,
		To:   models.RideCompleted,
		End:  true,
	})
	if err != nil {
		return nil, err
	}
	if r.TotalDurationMinutes != nil {
		s.logger.Info("ride ended", "ride_id", rideID, "duration_min", *r.TotalDurationMinutes)
	} else {
		s.logger.Warn("ride ended without a start time", "ride_id", rideID)
	}
	return s.enrich(ctx, r)
}

// Cancel ends a ride that has not started yet.
func (s *Service) Cancel(ctx context.Context, rideID string) (_ *models.Ride, err error) {
	ctx, span := s.start(ctx, "ride.Cancel", rideID)
	defer func() { endSpan(span, err) }()

	if rideID == "" {
		return nil, errs.E(errs.Validation, "rideId is required")
	}
	r, err := s.transition(ctx, rideID, storage.Transition{From: models.RidePending, To: models.RideCancelled})
	if errors.Is(err, errs.InvalidState) {
		r, err = s.transition(ctx, rideID, storage.Transition{From: models.RideAccepted, To: models.RideCancelled})
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("ride cancelled", "ride_id", rideID)
	return s.enrich(ctx, r)
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	if rideID == "" {
		return nil, errs.E(errs.Validation, "rideId is required")
	}
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, storage.Classify(err, "ride")
	}
	return s.enrich(ctx, r)
}

// ExpirePending cancels rides still pending after olderThan. A ride confirmed
// while the sweep runs is left alone.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration) ([]*models.Ride, error) {
	ids, err := s.store.ListPendingBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, storage.Classify(err, "pending rides")
	}
	var expired []*models.Ride
	for _, id := range ids {
		r, err := s.transition(ctx, id, storage.Transition{From: models.RidePending, To: models.RideCancelled})
		if errors.Is(err, errs.InvalidState) || errors.Is(err, errs.NotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		s.logger.Info("pending ride expired", "ride_id", id)
		expired = append(expired, r)
	}
	return expired, nil
}

func (s *Service) transition(ctx context.Context, rideID string, t storage.Transition) (*models.Ride, error) {
	t.At = s.now()
	r, err := s.store.TransitionRide(ctx, rideID, t)
	if errors.Is(err, storage.ErrPrecondition) {
		cur, gerr := s.store.GetRide(ctx, rideID)
		if gerr != nil {
			err = gerr
		} else {
			err = invalidState(cur, t.To)
		}
	}
	if err != nil {
		err = storage.Classify(err, "ride")
		observability.RideTransitions.WithLabelValues(string(t.To), outcome(err)).Inc()
		return nil, err
	}
	observability.RideTransitions.WithLabelValues(string(t.To), "ok").Inc()
	return r, nil
}

// enrich attaches the public profiles of both parties. A party that cannot be
// found is left off.
func (s *Service) enrich(ctx context.Context, r *models.Ride) (*models.Ride, error) {
	rider, err := s.store.GetRider(ctx, r.RiderID)
	switch {
	case err == nil:
		p := rider.Profile()
		r.Rider = &p
	case !errors.Is(err, storage.ErrNotFound):
		return nil, storage.Classify(err, "rider")
	}
	if r.DriverID == "" {
		return r, nil
	}
	driver, err := s.store.GetDriver(ctx, r.DriverID)
	switch {
	case err == nil:
		p := driver.Profile()
		r.Driver = &p
	case !errors.Is(err, storage.ErrNotFound):
		return nil, storage.Classify(err, "captain")
	}
	return r, nil
}

func (s *Service) start(ctx context.Context, name, rideID string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(attribute.String("ride.id", rideID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func invalidState(cur *models.Ride, to models.RideStatus) error {
	return errs.E(errs.InvalidState, fmt.Sprintf("ride is %s, cannot move to %s", cur.Status, to))
}

func outcome(err error) string {
	return string(errs.KindOf(err))
}
