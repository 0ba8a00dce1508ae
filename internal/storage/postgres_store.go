package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "connect postgres")
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sqlx.DB { return p.db }

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rideRow struct {
	ID                   string         `db:"id"`
	RiderID              string         `db:"rider_id"`
	DriverID             sql.NullString `db:"driver_id"`
	Pickup               string         `db:"pickup"`
	Destination          string         `db:"destination"`
	VehicleType          string         `db:"vehicle_type"`
	Fare                 int64          `db:"fare"`
	OTP                  string         `db:"otp"`
	Status               string         `db:"status"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
	StartedAt            sql.NullTime   `db:"started_at"`
	EndedAt              sql.NullTime   `db:"ended_at"`
	TotalDurationMinutes sql.NullInt64  `db:"total_duration_minutes"`
}

func (r rideRow) toModel() *models.Ride {
	out := &models.Ride{
		ID:           r.ID,
		RiderID:      r.RiderID,
		DriverID:     r.DriverID.String,
		Pickup:       r.Pickup,
		Destination:  r.Destination,
		VehicleClass: models.VehicleClass(r.VehicleType),
		Fare:         r.Fare,
		OTP:          r.OTP,
		Status:       models.RideStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		out.StartedAt = &t
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		out.EndedAt = &t
	}
	if r.TotalDurationMinutes.Valid {
		v := r.TotalDurationMinutes.Int64
		out.TotalDurationMinutes = &v
	}
	return out
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, createRideQuery,
		r.ID, r.RiderID, r.Pickup, r.Destination, string(r.VehicleClass), r.Fare, r.OTP, string(r.Status), r.CreatedAt, r.UpdatedAt)
	return errs.Wrap(errs.Storage, err, "insert ride")
}

const createRideQuery = `
INSERT INTO rides (id, rider_id, pickup, destination, vehicle_type, fare, otp, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, getRideQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "read ride")
	}
	return row.toModel(), nil
}

const getRideQuery = `SELECT * FROM rides WHERE id = $1`

// TransitionRide is one conditional UPDATE; a concurrent writer that changed
// the status first makes it match zero rows.
func (p *PostgresStore) TransitionRide(ctx context.Context, id string, t Transition) (*models.Ride, error) {
	var row rideRow
	err := p.db.GetContext(ctx, &row, transitionRideQuery,
		id, string(t.From), string(t.To), t.DriverID, t.At, t.Start, t.End, t.OTP)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := p.db.GetContext(ctx, &exists, rideExistsQuery, id); err != nil {
			return nil, errs.Wrap(errs.Storage, err, "read ride")
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrPrecondition
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "update ride")
	}
	return row.toModel(), nil
}

const transitionRideQuery = `
UPDATE rides SET
    status = $3::text,
    driver_id = COALESCE(NULLIF($4::text, ''), driver_id),
    updated_at = $5::timestamptz,
    started_at = CASE WHEN $6::boolean THEN $5::timestamptz ELSE started_at END,
    ended_at = CASE WHEN $7::boolean THEN $5::timestamptz ELSE ended_at END,
    total_duration_minutes = CASE
        WHEN $7::boolean AND started_at IS NOT NULL
        THEN floor(extract(epoch FROM ($5::timestamptz - started_at)) / 60)::bigint
        ELSE total_duration_minutes END
WHERE id = $1 AND status = $2::text AND ($8::text = '' OR otp = $8::text)
RETURNING *
`

const rideExistsQuery = `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`

func (p *PostgresStore) ListPendingBefore(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := p.db.SelectContext(ctx, &ids, listPendingBeforeQuery, before)
	return ids, errs.Wrap(errs.Storage, err, "list pending rides")
}

const listPendingBeforeQuery = `SELECT id FROM rides WHERE status = 'pending' AND created_at < $1 ORDER BY id`

type riderRow struct {
	ID           string         `db:"id"`
	FirstName    string         `db:"firstname"`
	LastName     string         `db:"lastname"`
	Email        string         `db:"email"`
	ConnectionID sql.NullString `db:"connection_id"`
}

func (r riderRow) toModel() *models.Rider {
	return &models.Rider{Actor: models.Actor{
		ID: r.ID, FirstName: r.FirstName, LastName: r.LastName, Email: r.Email, ConnectionID: r.ConnectionID.String,
	}}
}

type driverRow struct {
	ID              string          `db:"id"`
	FirstName       string          `db:"firstname"`
	LastName        string          `db:"lastname"`
	Email           string          `db:"email"`
	ConnectionID    sql.NullString  `db:"connection_id"`
	Status          string          `db:"status"`
	Lat             sql.NullFloat64 `db:"lat"`
	Lng             sql.NullFloat64 `db:"lng"`
	VehicleType     string          `db:"vehicle_type"`
	VehicleColor    string          `db:"vehicle_color"`
	VehiclePlate    string          `db:"vehicle_plate"`
	VehicleCapacity int             `db:"vehicle_capacity"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r driverRow) toModel() models.Driver {
	d := models.Driver{
		Actor: models.Actor{
			ID: r.ID, FirstName: r.FirstName, LastName: r.LastName, Email: r.Email, ConnectionID: r.ConnectionID.String,
		},
		Status: models.DriverStatus(r.Status),
		Vehicle: models.Vehicle{
			Type: r.VehicleType, Color: r.VehicleColor, Plate: r.VehiclePlate, Capacity: r.VehicleCapacity,
		},
		Updated: r.UpdatedAt,
	}
	if r.Lat.Valid && r.Lng.Valid {
		d.Location = &models.Coord{Lat: r.Lat.Float64, Lng: r.Lng.Float64}
	}
	return d
}

func (p *PostgresStore) UpsertRider(ctx context.Context, r models.Rider) error {
	_, err := p.db.ExecContext(ctx, upsertRiderQuery, r.ID, r.FirstName, r.LastName, r.Email)
	return errs.Wrap(errs.Storage, err, "upsert rider")
}

const upsertRiderQuery = `
INSERT INTO riders (id, firstname, lastname, email) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET firstname = EXCLUDED.firstname, lastname = EXCLUDED.lastname, email = EXCLUDED.email
`

// UpsertDriver writes the profile columns. Status and location are only set on
// insert; afterwards they change through their own updates.
func (p *PostgresStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	var lat, lng sql.NullFloat64
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: d.Location.Lng, Valid: true}
	}
	status := d.Status
	if status == "" {
		status = models.DriverInactive
	}
	_, err := p.db.ExecContext(ctx, upsertDriverQuery,
		d.ID, d.FirstName, d.LastName, d.Email, string(status), lat, lng,
		d.Vehicle.Type, d.Vehicle.Color, d.Vehicle.Plate, d.Vehicle.Capacity)
	return errs.Wrap(errs.Storage, err, "upsert driver")
}

const upsertDriverQuery = `
INSERT INTO drivers (id, firstname, lastname, email, status, lat, lng, vehicle_type, vehicle_color, vehicle_plate, vehicle_capacity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    firstname = EXCLUDED.firstname, lastname = EXCLUDED.lastname, email = EXCLUDED.email,
    vehicle_type = EXCLUDED.vehicle_type, vehicle_color = EXCLUDED.vehicle_color,
    vehicle_plate = EXCLUDED.vehicle_plate, vehicle_capacity = EXCLUDED.vehicle_capacity,
    updated_at = now()
`

func (p *PostgresStore) GetRider(ctx context.Context, id string) (*models.Rider, error) {
	var row riderRow
	err := p.db.GetContext(ctx, &row, `SELECT * FROM riders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "read rider")
	}
	return row.toModel(), nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var row driverRow
	err := p.db.GetContext(ctx, &row, `SELECT * FROM drivers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "read driver")
	}
	d := row.toModel()
	return &d, nil
}

func (p *PostgresStore) GetDrivers(ctx context.Context, ids []string) ([]models.Driver, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM drivers WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "build driver query")
	}
	var rows []driverRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(query), args...); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "read drivers")
	}
	return driverModels(rows), nil
}

func (p *PostgresStore) ListLocatedDrivers(ctx context.Context) ([]models.Driver, error) {
	var rows []driverRow
	err := p.db.SelectContext(ctx, &rows, `SELECT * FROM drivers WHERE lat IS NOT NULL AND lng IS NOT NULL`)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "read drivers")
	}
	return driverModels(rows), nil
}

func driverModels(rows []driverRow) []models.Driver {
	out := make([]models.Driver, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coord) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET lat = $1, lng = $2, updated_at = now() WHERE id = $3`, loc.Lat, loc.Lng, id)
	return rowsAffected(res, err, "update driver location")
}

func (p *PostgresStore) SetConnectionID(ctx context.Context, actorType models.ActorType, id, connID string) error {
	table, ok := actorTable(actorType)
	if !ok {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE `+table+` SET connection_id = $1 WHERE id = $2`, connID, id)
	return rowsAffected(res, err, "set connection id")
}

func (p *PostgresStore) GetConnectionID(ctx context.Context, actorType models.ActorType, id string) (string, error) {
	table, ok := actorTable(actorType)
	if !ok {
		return "", ErrNotFound
	}
	var conn sql.NullString
	err := p.db.GetContext(ctx, &conn, `SELECT connection_id FROM `+table+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errs.Wrap(errs.Storage, err, "read connection id")
	}
	return conn.String, nil
}

// ClearConnectionID unbinds the connection from riders and drivers in one
// transaction.
func (p *PostgresStore) ClearConnectionID(ctx context.Context, connID string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE riders SET connection_id = NULL WHERE connection_id = $1`, connID); err != nil {
		return errs.Wrap(errs.Storage, err, "clear rider connection")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drivers SET connection_id = NULL WHERE connection_id = $1`, connID); err != nil {
		return errs.Wrap(errs.Storage, err, "clear driver connection")
	}
	return errs.Wrap(errs.Storage, tx.Commit(), "commit")
}

func actorTable(t models.ActorType) (string, bool) {
	switch t {
	case models.ActorRider:
		return "riders", true
	case models.ActorDriver:
		return "drivers", true
	}
	return "", false
}

func rowsAffected(res sql.Result, err error, op string) error {
	if err != nil {
		return errs.Wrap(errs.Storage, err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.Storage, err, op)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
