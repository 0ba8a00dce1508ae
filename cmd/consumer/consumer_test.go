package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/ingest"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	last     time.Time
}

func (f *fakeUpdater) LastSeen(ctx context.Context, driverID string) (time.Time, bool, error) {
	return f.last, !f.last.IsZero(), nil
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func event() ingest.LocationEvent {
	return ingest.LocationEvent{DriverID: "c1", Lat: 12.97, Lng: 77.59, At: time.Now()}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	start := time.Now()

	applied, err := updateRedisWithRetry(context.Background(), f, event(), 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.GreaterOrEqual(t, f.geoCalls, 2)
	assert.GreaterOrEqual(t, f.hCalls, 2)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	_, err := updateRedisWithRetry(context.Background(), f, event(), 3, 5*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, f.geoCalls)
}

func TestUpdateRedisSkipsOlderEvents(t *testing.T) {
	ev := event()
	f := &fakeUpdater{last: ev.At.Add(time.Second)}

	applied, err := updateRedisWithRetry(context.Background(), f, ev, 3, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Zero(t, f.geoCalls)
}

func TestRedisAdapterWritesGeoAndMeta(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	a := &redisAdapter{c: rc, geoKey: "drivers_geo"}
	ctx := context.Background()

	ev := event()
	applied, err := updateRedisWithRetry(ctx, a, ev, 1, time.Millisecond)
	require.NoError(t, err)
	require.True(t, applied)

	pos, err := rc.GeoPos(ctx, "drivers_geo", "c1").Result()
	require.NoError(t, err)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0])
	assert.InDelta(t, 77.59, pos[0].Longitude, 1e-4)

	last, ok, err := a.LastSeen(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev.At.UnixMilli(), last.UnixMilli())

	older := ev
	older.At = ev.At.Add(-time.Minute)
	older.Lng = 77.0
	applied, err = updateRedisWithRetry(ctx, a, older, 1, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestDecodeLocation(t *testing.T) {
	_, err := decodeLocation([]byte(`{"driverId":"c1","lat":12.9,"lng":77.6,"at":"2026-01-02T03:04:05Z"}`))
	require.NoError(t, err)

	_, err = decodeLocation([]byte(`{"lat":12.9,"lng":77.6}`))
	assert.Error(t, err)
	_, err = decodeLocation([]byte(`{"driverId":"c1","lat":120,"lng":77.6}`))
	assert.Error(t, err)
	_, err = decodeLocation([]byte(`not json`))
	assert.Error(t, err)
}
