package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func (s *Server) handleFare(w http.ResponseWriter, r *http.Request) {
	q, err := s.maps.Quote(r.Context(), r.URL.Query().Get("pickup"), r.URL.Query().Get("destination"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"fare": q.Fares, "distance": q.DistanceKm, "duration": q.DurationMin})
}

type createRideRequest struct {
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	VehicleType string `json:"vehicleType"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	me := identityFrom(r.Context())
	res, err := s.matcher.RequestRide(r.Context(), me.ActorID, req.Pickup, req.Destination, models.VehicleClass(req.VehicleType))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusCreated, map[string]any{"ride": res.Ride, "offers": res.Offers})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	me := identityFrom(r.Context())
	switch {
	case me.ActorType == models.ActorRider && ride.RiderID == me.ActorID:
		ok(w, http.StatusOK, map[string]any{"ride": ride})
	case me.ActorType == models.ActorDriver && ride.DriverID == me.ActorID:
		ok(w, http.StatusOK, map[string]any{"ride": ride.WithoutOTP()})
	default:
		s.fail(w, r, errs.E(errs.Forbidden, "not a party to this ride"))
	}
}

func (s *Server) handleConfirmRide(w http.ResponseWriter, r *http.Request) {
	me := identityFrom(r.Context())
	ride, err := s.matcher.Confirm(r.Context(), mux.Vars(r)["id"], me.ActorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"ride": ride.WithoutOTP()})
}

type startRideRequest struct {
	OTP string `json:"otp"`
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	var req startRideRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.OTP) != 6 {
		s.fail(w, r, errs.E(errs.Validation, "otp must be 6 characters"))
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.requireAssigned(r, id); err != nil {
		s.fail(w, r, err)
		return
	}
	ride, err := s.matcher.Start(r.Context(), id, req.OTP)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"ride": ride.WithoutOTP()})
}

func (s *Server) handleEndRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.requireAssigned(r, id); err != nil {
		s.fail(w, r, err)
		return
	}
	ride, err := s.matcher.End(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"ride": ride.WithoutOTP()})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.ownRide(r, id); err != nil {
		s.fail(w, r, err)
		return
	}
	ride, err := s.matcher.Cancel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"ride": ride})
}

// requireAssigned checks the caller is the captain on the ride. The driver on
// a ride never changes once set, so the check cannot go stale.
func (s *Server) requireAssigned(r *http.Request, rideID string) error {
	ride, err := s.rides.Get(r.Context(), rideID)
	if err != nil {
		return err
	}
	if ride.DriverID != identityFrom(r.Context()).ActorID {
		return errs.E(errs.Forbidden, "ride is assigned to another captain")
	}
	return nil
}

func (s *Server) ownRide(r *http.Request, rideID string) (*models.Ride, error) {
	ride, err := s.rides.Get(r.Context(), rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != identityFrom(r.Context()).ActorID {
		return nil, errs.E(errs.Forbidden, "ride belongs to another user")
	}
	return ride, nil
}

func (s *Server) handleCoordinates(w http.ResponseWriter, r *http.Request) {
	c, err := s.maps.ResolveAddress(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"lat": c.Lat, "lng": c.Lng})
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	route, err := s.maps.RouteDistanceDuration(r.Context(), q.Get("origin"), q.Get("destination"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"distance": route.DistanceKm, "duration": route.DurationMin})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := s.maps.Autocomplete(r.Context(), r.URL.Query().Get("input"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"suggestions": out})
}

type nearbyDriver struct {
	models.Profile
	Location models.Coord `json:"location"`
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil || !maps.ValidCoord(models.Coord{Lat: lat, Lng: lng}) {
		s.fail(w, r, errs.E(errs.Validation, "lat and lng must be valid coordinates"))
		return
	}
	radius := s.radiusKm
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			s.fail(w, r, errs.E(errs.Validation, "radius must be a positive number of km"))
			return
		}
		radius = f
	}
	drivers, err := s.geo.FindDriversNear(r.Context(), lat, lng, radius)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]nearbyDriver, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, nearbyDriver{Profile: d.Profile(), Location: *d.Location})
	}
	ok(w, http.StatusOK, map[string]any{"drivers": out})
}

type checkoutRequest struct {
	RideID string `json:"rideId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		s.fail(w, r, errs.E(errs.Upstream, "payments are not configured"))
		return
	}
	var req checkoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RideID == "" {
		s.fail(w, r, errs.E(errs.Validation, "rideId is required"))
		return
	}
	ride, err := s.ownRide(r, req.RideID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.payments.CheckoutRide(r.Context(), ride)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"id": c.ID, "url": c.URL})
}

type profileRequest struct {
	FirstName string          `json:"firstname"`
	LastName  string          `json:"lastname"`
	Email     string          `json:"email"`
	Vehicle   *models.Vehicle `json:"vehicle"`
}

// handleProfile creates or updates the caller's own actor record. Only profile
// fields are written; location, status and connection id keep moving through
// their own paths.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		s.fail(w, r, errs.E(errs.Validation, "firstname is required"))
		return
	}
	me := identityFrom(r.Context())
	ctx := r.Context()
	actor := models.Actor{ID: me.ActorID, FirstName: req.FirstName, LastName: req.LastName, Email: req.Email}

	switch me.ActorType {
	case models.ActorRider:
		rider := models.Rider{Actor: actor}
		if err := s.actors.UpsertRider(ctx, rider); err != nil {
			s.fail(w, r, storage.Classify(err, "user"))
			return
		}
		ok(w, http.StatusOK, map[string]any{"profile": rider.Profile()})
	case models.ActorDriver:
		if req.Vehicle == nil || !models.VehicleClass(req.Vehicle.Type).Valid() {
			s.fail(w, r, errs.E(errs.Validation, "vehicle with vehicleType auto, car or moto is required"))
			return
		}
		if req.Vehicle.Capacity < 1 {
			s.fail(w, r, errs.E(errs.Validation, "vehicle capacity must be at least 1"))
			return
		}
		d := models.Driver{Actor: actor, Status: models.DriverActive, Vehicle: *req.Vehicle}
		if err := s.actors.UpsertDriver(ctx, d); err != nil {
			s.fail(w, r, storage.Classify(err, "captain"))
			return
		}
		ok(w, http.StatusOK, map[string]any{"profile": d.Profile()})
	}
}
