package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

type RideReader interface {
	Get(ctx context.Context, rideID string) (*models.Ride, error)
}

type DriverLocations interface {
	UpdateDriverLocation(ctx context.Context, id string, loc models.Coord) error
}

type LocationPublisher interface {
	PublishLocation(ctx context.Context, ev ingest.LocationEvent) error
}

// Identity is the authenticated actor behind a connection, if any.
type Identity struct {
	ActorID   string
	ActorType models.ActorType
}

type Config struct {
	Presence  presence.Registry
	Rides     RideReader
	Drivers   DriverLocations
	Geo       geo.Locator       // optional
	Publisher LocationPublisher // optional
	Logger    *slog.Logger

	SendBuffer  int
	CheckOrigin func(r *http.Request) bool
}

// Hub owns every live websocket connection on this server.
type Hub struct {
	presence  presence.Registry
	rides     RideReader
	drivers   DriverLocations
	geo       geo.Locator
	publisher LocationPublisher
	logger    *slog.Logger

	sendBuffer int
	upgrader   websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		presence:   cfg.Presence,
		rides:      cfg.Rides,
		drivers:    cfg.Drivers,
		geo:        cfg.Geo,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		sendBuffer: cfg.SendBuffer,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: checkOrigin},
		conns:      make(map[string]*Conn),
	}
}

// Conn is one client connection. Writes go through send and are performed by
// a single writer goroutine.
type Conn struct {
	id       string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	identity *Identity

	mu    sync.Mutex
	actor *Identity // set by join
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) joined() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actor
}

func (c *Conn) setJoined(id Identity) {
	c.mu.Lock()
	c.actor = &id
	c.mu.Unlock()
}

// ServeWS upgrades the request and runs the connection until it closes. ident
// is nil for unauthenticated connections.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ident *Identity) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	c := &Conn{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		identity: ident,
	}
	h.add(c)
	h.logger.Info("ws connected", "conn_id", c.id)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	observability.ConnectionsOpen.Inc()
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	observability.ConnectionsOpen.Dec()
	close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Clear(ctx, c.id); err != nil {
		h.logger.Error("presence clear failed", "conn_id", c.id, "error", err)
	}
	h.logger.Info("ws disconnected", "conn_id", c.id)
}

func (h *Hub) readPump(c *Conn) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			h.reply(c, EventError, ErrorMessage{Message: "malformed message"})
			continue
		}
		h.handle(context.Background(), c, env)
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn("ws write failed", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues event for connID. It reports whether the message was queued;
// an unknown connection or a full queue drops it.
func (h *Hub) Send(ctx context.Context, connID, event string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		observability.MessagesDropped.WithLabelValues("no_connection").Inc()
		h.logger.Debug("ws send to unknown connection", "conn_id", connID, "event", event)
		return false
	}
	return h.enqueue(c, event, payload)
}

// Notify looks up the actor's connection and sends to it.
func (h *Hub) Notify(ctx context.Context, actorID string, actorType models.ActorType, event string, payload any) bool {
	connID, ok, err := h.presence.Lookup(ctx, actorID, actorType)
	if err != nil {
		h.logger.Error("presence lookup failed", "actor_id", actorID, "actor_type", actorType, "error", err)
		return false
	}
	if !ok {
		observability.MessagesDropped.WithLabelValues("offline").Inc()
		h.logger.Debug("actor offline", "actor_id", actorID, "actor_type", actorType, "event", event)
		return false
	}
	return h.Send(ctx, connID, event, payload)
}

// Connections is the number of open connections on this server.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.remove(c)
	}
}

func (h *Hub) reply(c *Conn, event string, payload any) {
	h.enqueue(c, event, payload)
}

func (h *Hub) enqueue(c *Conn, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("ws encode failed", "event", event, "error", err)
		return false
	}
	msg, _ := json.Marshal(Envelope{Event: event, Data: data})
	select {
	case <-c.done:
		observability.MessagesDropped.WithLabelValues("closed").Inc()
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		observability.MessagesDropped.WithLabelValues("queue_full").Inc()
		h.logger.Warn("ws send queue full, dropping", "conn_id", c.id, "event", event)
		return false
	}
}
