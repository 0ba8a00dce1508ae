package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

const publishTimeout = 2 * time.Second

// LocationEvent is the message on the driver locations topic, keyed by driver
// id so one driver's updates stay in one partition.
type LocationEvent struct {
	DriverID string    `json:"driverId"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	At       time.Time `json:"at"`
}

// RideEvent is the message on the ride events topic, keyed by ride id.
type RideEvent struct {
	Type string      `json:"type"`
	Ride models.Ride `json:"ride"`
	At   time.Time   `json:"at"`
}

func RideEventType(s models.RideStatus) string {
	return "ride." + string(s)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	locations messageWriter
	events    messageWriter
}

func NewKafkaProducer(brokers []string, locationsTopic, eventsTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations: newWriter(brokers, locationsTopic),
		events:    newWriter(brokers, eventsTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, ev LocationEvent) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(ev.DriverID), Value: b})
}

// PublishRideEvent records a lifecycle change. The OTP never leaves the service.
func (k *KafkaProducer) PublishRideEvent(ctx context.Context, r models.Ride) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	ev := RideEvent{Type: RideEventType(r.Status), Ride: r.WithoutOTP(), At: r.UpdatedAt}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.events.WriteMessages(ctx, kafka.Message{
		Key:     []byte(r.ID),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []messageWriter{k.locations, k.events} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
