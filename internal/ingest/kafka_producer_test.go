package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (r *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingWriter) Close() error {
	r.closed = true
	return nil
}

func TestPublishLocationKeysByDriver(t *testing.T) {
	loc := &recordingWriter{}
	p := &KafkaProducer{locations: loc, events: &recordingWriter{}}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.PublishLocation(context.Background(), LocationEvent{DriverID: "c1", Lat: 12.9, Lng: 77.6, At: at}))

	require.Len(t, loc.msgs, 1)
	assert.Equal(t, "c1", string(loc.msgs[0].Key))
	var got LocationEvent
	require.NoError(t, json.Unmarshal(loc.msgs[0].Value, &got))
	assert.Equal(t, 77.6, got.Lng)
	assert.True(t, at.Equal(got.At))
}

func TestPublishRideEventHidesOTP(t *testing.T) {
	events := &recordingWriter{}
	p := &KafkaProducer{locations: &recordingWriter{}, events: events}

	r := models.Ride{ID: "r1", RiderID: "u1", DriverID: "c1", OTP: "424242", Status: models.RideAccepted}
	require.NoError(t, p.PublishRideEvent(context.Background(), r))

	require.Len(t, events.msgs, 1)
	m := events.msgs[0]
	assert.Equal(t, "r1", string(m.Key))
	assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte("ride.accepted")}}, m.Headers)
	assert.NotContains(t, string(m.Value), "424242")

	var ev RideEvent
	require.NoError(t, json.Unmarshal(m.Value, &ev))
	assert.Equal(t, "ride.accepted", ev.Type)
	assert.Equal(t, "c1", ev.Ride.DriverID)
}

func TestCloseClosesBothWriters(t *testing.T) {
	a, b := &recordingWriter{}, &recordingWriter{}
	p := &KafkaProducer{locations: a, events: b}
	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
