package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPrecondition means the row exists but did not match the expected
	// status (or OTP) of a conditional update.
	ErrPrecondition = errors.New("precondition not met")
)

// Transition describes a conditional status change. It is applied only when
// the stored ride is in From and, if OTP is set, carries that exact OTP.
type Transition struct {
	From     models.RideStatus
	To       models.RideStatus
	OTP      string
	DriverID string
	At       time.Time
	Start    bool // record StartedAt = At
	End      bool // record EndedAt = At and derive TotalDurationMinutes
}

// RideStore persists rides. TransitionRide is the only way a ride's status
// changes and must be a single atomic compare-and-swap.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	TransitionRide(ctx context.Context, id string, t Transition) (*models.Ride, error)
	ListPendingBefore(ctx context.Context, before time.Time) ([]string, error)
}

// ActorStore persists riders and drivers along with the connection id last
// announced by each of them.
type ActorStore interface {
	UpsertRider(ctx context.Context, r models.Rider) error
	UpsertDriver(ctx context.Context, d models.Driver) error
	GetRider(ctx context.Context, id string) (*models.Rider, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	GetDrivers(ctx context.Context, ids []string) ([]models.Driver, error)
	ListLocatedDrivers(ctx context.Context) ([]models.Driver, error)
	UpdateDriverLocation(ctx context.Context, id string, loc models.Coord) error

	SetConnectionID(ctx context.Context, actorType models.ActorType, id, connID string) error
	GetConnectionID(ctx context.Context, actorType models.ActorType, id string) (string, error)
	ClearConnectionID(ctx context.Context, connID string) error
}

type Store interface {
	RideStore
	ActorStore
	Ping(ctx context.Context) error
	Close() error
}

// durationMinutes is floor((end-start)/1m), the whole minutes of a trip.
func durationMinutes(start, end time.Time) int64 {
	return int64(end.Sub(start) / time.Minute)
}

// Classify maps the store sentinels onto error kinds. Errors that already
// carry a kind pass through; anything else is a StorageError.
func Classify(err error, what string) error {
	var e *errs.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &e):
		return err
	case errors.Is(err, ErrNotFound):
		return errs.E(errs.NotFound, what+" not found")
	case errors.Is(err, ErrPrecondition):
		return errs.E(errs.InvalidState, what+" is not in the expected state")
	}
	return errs.Wrap(errs.Storage, err, what)
}
