package dispatch

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Event names on the wire.
const (
	EventJoin           = "join"
	EventLocation       = "update-location-captain"
	EventConfirmDropoff = "confirm-dropoff"

	EventJoined        = "joined"
	EventNewRide       = "new-ride"
	EventRideConfirmed = "ride-confirmed"
	EventRideStarted   = "ride-started"
	EventRideEnded     = "ride-ended"
	EventRideCancelled = "ride-cancelled"
	EventError         = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinMessage struct {
	UserID    string `json:"userId"`
	ActorID   string `json:"actorId"`
	UserType  string `json:"userType"`
	ActorType string `json:"actorType"`
}

func (m JoinMessage) validate() (string, models.ActorType, error) {
	id := strings.TrimSpace(m.UserID)
	if id == "" {
		id = strings.TrimSpace(m.ActorID)
	}
	if id == "" {
		return "", "", errs.E(errs.Validation, "userId is required")
	}
	raw := m.UserType
	if raw == "" {
		raw = m.ActorType
	}
	typ, ok := models.ParseActorType(raw)
	if !ok {
		return "", "", errs.E(errs.Validation, "userType must be user or captain")
	}
	return id, typ, nil
}

type LocationMessage struct {
	UserID   string `json:"userId"`
	ActorID  string `json:"actorId"`
	Location *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"location"`
}

func (m LocationMessage) validate() (string, models.Coord, error) {
	id := strings.TrimSpace(m.UserID)
	if id == "" {
		id = strings.TrimSpace(m.ActorID)
	}
	if id == "" {
		return "", models.Coord{}, errs.E(errs.Validation, "userId is required")
	}
	if m.Location == nil || m.Location.Latitude == nil || m.Location.Longitude == nil {
		return "", models.Coord{}, errs.E(errs.Validation, "location.latitude and location.longitude are required")
	}
	c := models.Coord{Lat: *m.Location.Latitude, Lng: *m.Location.Longitude}
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return "", models.Coord{}, errs.E(errs.Validation, "coordinates must be finite")
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return "", models.Coord{}, errs.E(errs.Validation, "coordinates out of range")
	}
	return id, c, nil
}

type ConfirmDropoffMessage struct {
	RideID string `json:"rideId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type JoinedMessage struct {
	ConnectionID string `json:"connectionId"`
}

// RideMessage carries a ride in every outbound ride-* and new-ride event.
type RideMessage struct {
	Ride models.Ride `json:"ride"`
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.Validation, err, "malformed payload")
	}
	return nil
}
