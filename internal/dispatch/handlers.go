package dispatch

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

func (h *Hub) handle(ctx context.Context, c *Conn, env Envelope) {
	if env.Event != EventJoin && c.joined() == nil {
		h.reply(c, EventError, ErrorMessage{Message: "join first"})
		return
	}
	var err error
	switch env.Event {
	case EventJoin:
		err = h.handleJoin(ctx, c, env)
	case EventLocation:
		err = h.handleLocation(ctx, c, env)
	case EventConfirmDropoff:
		err = h.handleConfirmDropoff(ctx, c, env)
	default:
		err = errs.E(errs.Validation, "unknown event "+env.Event)
	}
	if err != nil {
		if errs.Operational(err) {
			h.logger.Error("ws event failed", "conn_id", c.id, "event", env.Event, "error", err)
		}
		h.reply(c, EventError, ErrorMessage{Message: errs.Message(err)})
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Conn, env Envelope) error {
	var m JoinMessage
	if err := decode(env.Data, &m); err != nil {
		return err
	}
	id, typ, err := m.validate()
	if err != nil {
		return err
	}
	if c.identity != nil && (c.identity.ActorID != id || c.identity.ActorType != typ) {
		return errs.E(errs.Forbidden, "join does not match token")
	}
	if err := h.presence.Register(ctx, id, typ, c.id); err != nil {
		return err
	}
	c.setJoined(Identity{ActorID: id, ActorType: typ})
	h.logger.Info("actor joined", "conn_id", c.id, "actor_id", id, "actor_type", typ)
	h.reply(c, EventJoined, JoinedMessage{ConnectionID: c.id})
	return nil
}

func (h *Hub) handleLocation(ctx context.Context, c *Conn, env Envelope) error {
	var m LocationMessage
	if err := decode(env.Data, &m); err != nil {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		return err
	}
	id, loc, err := m.validate()
	if err != nil {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		return err
	}
	if me := c.joined(); me.ActorType != models.ActorDriver || me.ActorID != id {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		return errs.E(errs.Forbidden, "only the joined captain may update its location")
	}
	if err := h.drivers.UpdateDriverLocation(ctx, id, loc); err != nil {
		observability.LocationUpdates.WithLabelValues("error").Inc()
		return storage.Classify(err, "captain")
	}
	observability.LocationUpdates.WithLabelValues("ok").Inc()

	if h.geo != nil {
		if err := h.geo.UpdateLocation(ctx, id, loc); err != nil {
			h.logger.Error("geo index update failed", "captain_id", id, "error", err)
		}
	}
	if h.publisher != nil {
		ev := ingest.LocationEvent{DriverID: id, Lat: loc.Lat, Lng: loc.Lng, At: time.Now().UTC()}
		if err := h.publisher.PublishLocation(ctx, ev); err != nil {
			h.logger.Error("location publish failed", "captain_id", id, "error", err)
		}
	}
	return nil
}

// handleConfirmDropoff relays the rider's dropoff confirmation to the
// assigned captain.
func (h *Hub) handleConfirmDropoff(ctx context.Context, c *Conn, env Envelope) error {
	var m ConfirmDropoffMessage
	if err := decode(env.Data, &m); err != nil {
		return err
	}
	if m.RideID == "" {
		return errs.E(errs.Validation, "rideId is required")
	}
	r, err := h.rides.Get(ctx, m.RideID)
	if err != nil {
		return err
	}
	if me := c.joined(); me.ActorType != models.ActorRider || me.ActorID != r.RiderID {
		return errs.E(errs.Forbidden, "ride belongs to another user")
	}
	if r.DriverID == "" {
		return errs.E(errs.InvalidState, "ride has no captain")
	}
	if !h.Notify(ctx, r.DriverID, models.ActorDriver, EventRideConfirmed, RideMessage{Ride: r.WithoutOTP()}) {
		h.logger.Info("dropoff confirmation not delivered", "ride_id", r.ID, "captain_id", r.DriverID)
	}
	return nil
}
