package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Redis stores members as 52-bit geohashes and uses its own earth radius, so
// its radius query only selects candidates; the exact filter runs on the
// coordinates in the driver table.
const (
	prefilterMarginRatio = 0.01
	prefilterMarginM     = 50.0
)

type DriverLoader interface {
	GetDrivers(ctx context.Context, ids []string) ([]models.Driver, error)
}

// RedisGeo implements Finder and Locator using Redis GEO commands.
type RedisGeo struct {
	client  redis.UniversalClient
	key     string
	drivers DriverLoader
}

func NewRedisGeo(client redis.UniversalClient, key string, drivers DriverLoader) *RedisGeo {
	return &RedisGeo{client: client, key: key, drivers: drivers}
}

func (r *RedisGeo) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: driverID}).Err()
	return errs.Wrap(errs.Storage, err, "geoadd")
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	return errs.Wrap(errs.Storage, r.client.ZRem(ctx, r.key, driverID).Err(), "zrem")
}

func (r *RedisGeo) FindDriversNear(ctx context.Context, lat, lng, radiusKm float64) ([]models.Driver, error) {
	radiusM := radiusKm*1000*(1+prefilterMarginRatio) + prefilterMarginM
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM,
		Unit:   "m",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "georadius")
	}
	if len(res) == 0 {
		return []models.Driver{}, nil
	}
	ids := make([]string, 0, len(res))
	for _, g := range res {
		ids = append(ids, g.Name)
	}
	drivers, err := r.drivers.GetDrivers(ctx, ids)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "load drivers")
	}
	return WithinRadius(lat, lng, radiusKm, drivers), nil
}
