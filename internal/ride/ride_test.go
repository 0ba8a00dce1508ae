package ride

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type fixedQuoter struct {
	q   maps.Quote
	err error
}

func (f fixedQuoter) Quote(ctx context.Context, pickup, destination string) (maps.Quote, error) {
	return f.q, f.err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var tripQuote = maps.Quote{
	Route: maps.Route{DistanceKm: 4.2, DurationMin: 13.5},
	Fares: fare.Compute(4.2, 13.5),
}

func newFixture(t *testing.T) (*Service, *storage.MemoryStore, *clock) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertRider(ctx, models.Rider{Actor: models.Actor{ID: "u1", FirstName: "Asha"}}))
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, store.UpsertDriver(ctx, models.Driver{
			Actor:   models.Actor{ID: id, FirstName: "Driver " + id},
			Status:  models.DriverActive,
			Vehicle: models.Vehicle{Type: "car", Color: "white", Plate: "KA01" + id, Capacity: 4},
		}))
	}
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store, fixedQuoter{q: tripQuote}, logging.Discard())
	svc.now = c.now
	return svc, store, c
}

func TestNewOTPShape(t *testing.T) {
	re := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 200; i++ {
		otp, err := NewOTP()
		require.NoError(t, err)
		assert.Regexp(t, re, otp)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", "A", "B", models.VehicleCar)
	assert.ErrorIs(t, err, errs.Validation)
	_, err = svc.Create(ctx, "u1", "A", " ", models.VehicleCar)
	assert.ErrorIs(t, err, errs.Validation)
	_, err = svc.Create(ctx, "u1", "A", "B", "")
	assert.ErrorIs(t, err, errs.Validation)
	_, err = svc.Create(ctx, "u1", "A", "B", "bus")
	assert.ErrorIs(t, err, errs.Validation)
	_, err = svc.Create(ctx, "ghost", "A", "B", models.VehicleCar)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestCreatePropagatesGatewayErrors(t *testing.T) {
	svc, store, _ := newFixture(t)
	svc.quoter = fixedQuoter{err: errs.E(errs.Upstream, "geocoder down")}

	_, err := svc.Create(context.Background(), "u1", "A", "B", models.VehicleAuto)
	assert.ErrorIs(t, err, errs.Upstream)

	ids, err := store.ListPendingBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids, "nothing persisted")
}

func TestEndToEndLifecycle(t *testing.T) {
	svc, _, clk := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "u1", "12 Main St", "400 Market St", models.VehicleCar)
	require.NoError(t, err)
	assert.Equal(t, models.RidePending, r.Status)
	assert.Equal(t, tripQuote.Fares.Car, r.Fare)
	assert.Regexp(t, `^[0-9]{6}$`, r.OTP)
	assert.Empty(t, r.DriverID)

	r2, err := svc.Confirm(ctx, r.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.RideAccepted, r2.Status)
	assert.Equal(t, "c1", r2.DriverID)
	require.NotNil(t, r2.Driver)
	assert.Equal(t, "KA01c1", r2.Driver.Vehicle.Plate)
	require.NotNil(t, r2.Rider)
	assert.Equal(t, "Asha", r2.Rider.FirstName)

	clk.advance(time.Minute)
	r3, err := svc.Start(ctx, r.ID, r.OTP)
	require.NoError(t, err)
	assert.Equal(t, models.RideOngoing, r3.Status)
	require.NotNil(t, r3.StartedAt)

	clk.advance(17*time.Minute + 59*time.Second)
	r4, err := svc.End(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideCompleted, r4.Status)
	require.NotNil(t, r4.TotalDurationMinutes)
	assert.EqualValues(t, 17, *r4.TotalDurationMinutes)
	assert.Equal(t, "c1", r4.DriverID)
}

func TestConfirmAcceptedRideKeepsDriver(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	r, err := svc.Create(ctx, "u1", "A", "B", models.VehicleMoto)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, r.ID, "c1")
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, r.ID, "c2")
	assert.ErrorIs(t, err, errs.InvalidState)

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.DriverID)
}

func TestConfirmUnknownRide(t *testing.T) {
	svc, _, _ := newFixture(t)
	_, err := svc.Confirm(context.Background(), "missing", "c1")
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestConcurrentConfirmOneWinner(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, "u1", "A", "B", models.VehicleCar)
	require.NoError(t, err)

	drivers := []string{"c1", "c2"}
	results := make([]error, len(drivers))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d string) {
			defer wg.Done()
			<-start
			_, results[i] = svc.Confirm(ctx, r.ID, d)
		}(i, d)
	}
	close(start)
	wg.Wait()

	var ok, conflict int
	winner := ""
	for i, err := range results {
		switch {
		case err == nil:
			ok++
			winner = drivers[i]
		case errors.Is(err, errs.InvalidState):
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, got.DriverID)
}

func TestStartWrongOTPNeverMutates(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, r.ID, "c1")
	require.NoError(t, err)

	wrong := "000000"
	if r.OTP == wrong {
		wrong = "111111"
	}
	for i := 0; i < 5; i++ {
		_, err = svc.Start(ctx, r.ID, wrong)
		assert.ErrorIs(t, err, errs.InvalidOtp)
	}
	_, err = svc.Start(ctx, r.ID, "")
	assert.ErrorIs(t, err, errs.InvalidOtp)

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideAccepted, got.Status)
	assert.Nil(t, got.StartedAt)

	_, err = svc.Start(ctx, r.ID, r.OTP)
	require.NoError(t, err)
}

func TestStartRequiresAccepted(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)

	_, err = svc.Start(ctx, r.ID, r.OTP)
	assert.ErrorIs(t, err, errs.InvalidState, "pending ride")

	_, err = svc.Start(ctx, "missing", "123456")
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestNoSkippedOrReversedTransitions(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	r, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)

	_, err = svc.End(ctx, r.ID)
	assert.ErrorIs(t, err, errs.InvalidState)

	_, err = svc.Confirm(ctx, r.ID, "c1")
	require.NoError(t, err)
	_, err = svc.End(ctx, r.ID)
	assert.ErrorIs(t, err, errs.InvalidState)

	_, err = svc.Start(ctx, r.ID, r.OTP)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, r.ID, "c2")
	assert.ErrorIs(t, err, errs.InvalidState)
	_, err = svc.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, errs.InvalidState)

	_, err = svc.End(ctx, r.ID)
	require.NoError(t, err)
	_, err = svc.End(ctx, r.ID)
	assert.ErrorIs(t, err, errs.InvalidState)
}

func TestCancel(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	pending, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)
	got, err := svc.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideCancelled, got.Status)
	assert.Empty(t, got.DriverID)

	accepted, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, accepted.ID, "c1")
	require.NoError(t, err)
	got, err = svc.Cancel(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideCancelled, got.Status)
	assert.Equal(t, "c1", got.DriverID)

	_, err = svc.Confirm(ctx, pending.ID, "c2")
	assert.ErrorIs(t, err, errs.InvalidState)
}

func TestExpirePending(t *testing.T) {
	svc, _, clk := newFixture(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)
	taken, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, taken.ID, "c1")
	require.NoError(t, err)

	clk.advance(10 * time.Minute)
	fresh, err := svc.Create(ctx, "u1", "A", "B", models.VehicleAuto)
	require.NoError(t, err)

	expired, err := svc.ExpirePending(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, models.RideCancelled, expired[0].Status)

	got, err := svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RidePending, got.Status)
	got, err = svc.Get(ctx, taken.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideAccepted, got.Status)
}

func TestEndWithoutStartLeavesDurationUnset(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRide(ctx, &models.Ride{
		ID: "legacy", RiderID: "u1", DriverID: "c1", Status: models.RideOngoing, OTP: "123456",
	}))
	got, err := svc.End(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, models.RideCompleted, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.Nil(t, got.TotalDurationMinutes)
}
