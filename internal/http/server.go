package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
)

type RideReader interface {
	Get(ctx context.Context, rideID string) (*models.Ride, error)
}

// Actors writes profile fields only; stores keep an existing actor's location,
// status and connection id.
type Actors interface {
	UpsertRider(ctx context.Context, r models.Rider) error
	UpsertDriver(ctx context.Context, d models.Driver) error
}

type Deps struct {
	Matcher  *matcher.Service
	Rides    RideReader
	Maps     maps.Gateway
	Geo      geo.Finder
	Actors   Actors
	Payments payments.Gateway // nil when payments are not configured
	Hub      *dispatch.Hub
	Auth     *auth.Verifier
	Ready    func(ctx context.Context) error

	RadiusKm float64
	Logger   *slog.Logger
}

type Server struct {
	matcher  *matcher.Service
	rides    RideReader
	maps     maps.Gateway
	geo      geo.Finder
	actors   Actors
	payments payments.Gateway
	hub      *dispatch.Hub
	auth     *auth.Verifier
	ready    func(ctx context.Context) error
	radiusKm float64
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		matcher:  d.Matcher,
		rides:    d.Rides,
		maps:     d.Maps,
		geo:      d.Geo,
		actors:   d.Actors,
		payments: d.Payments,
		hub:      d.Hub,
		auth:     d.Auth,
		ready:    d.Ready,
		radiusKm: d.RadiusKm,
		logger:   d.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	rider := onlyFor(models.ActorRider)
	captain := onlyFor(models.ActorDriver)

	api.Handle("/profile", http.HandlerFunc(s.handleProfile)).Methods(http.MethodPut)

	api.Handle("/rides/fare", rider(s.handleFare)).Methods(http.MethodGet)
	api.Handle("/rides", rider(s.handleCreateRide)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.Handle("/rides/{id}/confirm", captain(s.handleConfirmRide)).Methods(http.MethodPost)
	api.Handle("/rides/{id}/start", captain(s.handleStartRide)).Methods(http.MethodPost)
	api.Handle("/rides/{id}/end", captain(s.handleEndRide)).Methods(http.MethodPost)
	api.Handle("/rides/{id}/cancel", rider(s.handleCancelRide)).Methods(http.MethodPost)

	api.HandleFunc("/maps/coordinates", s.handleCoordinates).Methods(http.MethodGet)
	api.HandleFunc("/maps/distance", s.handleDistance).Methods(http.MethodGet)
	api.HandleFunc("/maps/suggestions", s.handleSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods(http.MethodGet)

	api.Handle("/payments/checkout", rider(s.handleCheckout)).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("not ready", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleWS accepts a token as a bearer header or ?token=. Without one the
// connection is anonymous and join is trusted as sent.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	tok := r.Header.Get("Authorization")
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	var ident *dispatch.Identity
	if tok != "" {
		id, err := s.auth.Verify(tok)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ident = &dispatch.Identity{ActorID: id.ActorID, ActorType: id.ActorType}
	}
	s.hub.ServeWS(w, r, ident)
}
