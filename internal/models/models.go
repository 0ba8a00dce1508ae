package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ActorType string

const (
	ActorRider  ActorType = "user"
	ActorDriver ActorType = "captain"
)

// ParseActorType accepts the wire names and the rider/driver aliases.
func ParseActorType(s string) (ActorType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "rider":
		return ActorRider, true
	case "captain", "driver":
		return ActorDriver, true
	}
	return "", false
}

type VehicleClass string

const (
	VehicleAuto VehicleClass = "auto"
	VehicleCar  VehicleClass = "car"
	VehicleMoto VehicleClass = "moto"
)

func (v VehicleClass) Valid() bool {
	switch v {
	case VehicleAuto, VehicleCar, VehicleMoto:
		return true
	}
	return false
}

type Actor struct {
	ID           string `json:"id" db:"id"`
	FirstName    string `json:"firstname" db:"firstname"`
	LastName     string `json:"lastname,omitempty" db:"lastname"`
	Email        string `json:"email,omitempty" db:"email"`
	ConnectionID string `json:"socketId,omitempty" db:"connection_id"`
}

type Rider struct {
	Actor
}

type DriverStatus string

const (
	DriverActive   DriverStatus = "active"
	DriverInactive DriverStatus = "inactive"
)

type Vehicle struct {
	Type     string `json:"vehicleType"`
	Color    string `json:"color"`
	Plate    string `json:"plate"`
	Capacity int    `json:"capacity"`
}

type Driver struct {
	Actor
	Status   DriverStatus `json:"status"`
	Location *Coord       `json:"location,omitempty"`
	Vehicle  Vehicle      `json:"vehicle"`
	Updated  time.Time    `json:"updated"`
}

// Profile is the public part of an actor shown to the other party of a ride.
type Profile struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstname"`
	LastName  string   `json:"lastname,omitempty"`
	Vehicle   *Vehicle `json:"vehicle,omitempty"`
}

func (r Rider) Profile() Profile {
	return Profile{ID: r.ID, FirstName: r.FirstName, LastName: r.LastName}
}

func (d Driver) Profile() Profile {
	v := d.Vehicle
	return Profile{ID: d.ID, FirstName: d.FirstName, LastName: d.LastName, Vehicle: &v}
}

type RideStatus string

const (
	RidePending   RideStatus = "pending"
	RideAccepted  RideStatus = "accepted"
	RideOngoing   RideStatus = "ongoing"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

type Ride struct {
	ID                   string       `json:"id"`
	RiderID              string       `json:"userId"`
	DriverID             string       `json:"captainId,omitempty"`
	Pickup               string       `json:"pickup"`
	Destination          string       `json:"destination"`
	VehicleClass         VehicleClass `json:"vehicleType"`
	Fare                 int64        `json:"fare"`
	OTP                  string       `json:"otp,omitempty"`
	Status               RideStatus   `json:"status"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
	StartedAt            *time.Time   `json:"startTime,omitempty"`
	EndedAt              *time.Time   `json:"endTime,omitempty"`
	TotalDurationMinutes *int64       `json:"totalDurationMinutes,omitempty"`

	Rider  *Profile `json:"user,omitempty"`
	Driver *Profile `json:"captain,omitempty"`
}

// WithoutOTP returns a copy safe to show to drivers.
func (r Ride) WithoutOTP() Ride {
	r.OTP = ""
	return r
}
