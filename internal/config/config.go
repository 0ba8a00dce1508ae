package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch server.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers     []string
	KafkaTopic       string
	KafkaEventsTopic string

	PGDSN string

	MatchRadiusKm     float64
	PendingRideTTL    time.Duration
	RideSweepInterval time.Duration

	NominatimURL  string
	ORSURL        string
	ORSAPIKey     string
	MapsUserAgent string
	MapsCacheTTL  time.Duration

	JWTSecret string

	StripeAPIKey     string
	StripeSuccessURL string
	StripeCancelURL  string
	PaymentCurrency  string

	OTLPEndpoint string

	WSSendBuffer int

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "drivers_geo",
		KafkaTopic:        "driver-locations",
		KafkaEventsTopic:  "ride-events",
		MatchRadiusKm:     15,
		RideSweepInterval: 30 * time.Second,
		NominatimURL:      "https://nominatim.openstreetmap.org",
		ORSURL:            "https://api.openrouteservice.org",
		MapsUserAgent:     "ride-dispatch/1.0",
		MapsCacheTTL:      10 * time.Minute,
		StripeSuccessURL:  "http://localhost:5173/home",
		StripeCancelURL:   "http://localhost:5173/riding",
		PaymentCurrency:   "inr",
		WSSendBuffer:      32,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.MatchRadiusKm, "MATCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.PendingRideTTL, "RIDE_PENDING_TTL", &errs)
	setDurationFromEnv(&cfg.RideSweepInterval, "RIDE_SWEEP_INTERVAL", &errs)

	setStringFromEnv(&cfg.NominatimURL, "NOMINATIM_URL")
	setStringFromEnv(&cfg.ORSURL, "ORS_URL")
	cfg.ORSAPIKey = os.Getenv("ORS_API_KEY")
	setStringFromEnv(&cfg.MapsUserAgent, "MAPS_USER_AGENT")
	setDurationFromEnv(&cfg.MapsCacheTTL, "MAPS_CACHE_TTL", &errs)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripeSuccessURL, "STRIPE_SUCCESS_URL")
	setStringFromEnv(&cfg.StripeCancelURL, "STRIPE_CANCEL_URL")
	setStringFromEnv(&cfg.PaymentCurrency, "PAYMENT_CURRENCY")

	cfg.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTLP_ENDPOINT"))

	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_KM must be > 0"))
	}
	if cfg.PendingRideTTL < 0 {
		errs = append(errs, fmt.Errorf("RIDE_PENDING_TTL must be >= 0"))
	}
	if cfg.PendingRideTTL > 0 && cfg.RideSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("RIDE_SWEEP_INTERVAL must be > 0 when RIDE_PENDING_TTL is set"))
	}
	if cfg.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
