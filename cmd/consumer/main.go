package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	msgsStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_stale_total",
		Help: "Location messages older than the position already stored",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsStale, redisUpdates, redisErrors)
}

var cli struct {
	Brokers     []string `name:"brokers" env:"KAFKA_BROKERS" default:"localhost:9092" help:"Kafka brokers."`
	Topic       string   `name:"topic" env:"KAFKA_TOPIC" default:"driver-locations" help:"Driver location topic."`
	Group       string   `name:"group" env:"KAFKA_GROUP" default:"ride-dispatch-consumer" help:"Consumer group id."`
	RedisAddr   string   `name:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPass   string   `name:"redis-password" env:"REDIS_PASSWORD"`
	GeoKey      string   `name:"geo-key" env:"REDIS_GEO_KEY" default:"drivers_geo" help:"Sorted set read by the dispatch server."`
	MetricsAddr string   `name:"metrics-addr" env:"METRICS_ADDR" default:":2112" help:"Address to serve prometheus metrics on."`
	LogLevel    string   `name:"log-level" env:"LOG_LEVEL" default:"info"`
}

func main() {
	kong.Parse(&cli, kong.Name("consumer"), kong.Description("Apply driver location events to the redis geo index."))
	logger := logging.NewLogger(cli.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cli.RedisAddr, Password: cli.RedisPass})
	radapter := &redisAdapter{c: rc, geoKey: cli.GeoKey}

	go serveMetrics(cli.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cli.Brokers, Topic: cli.Topic, GroupID: cli.Group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cli.Topic, "brokers", cli.Brokers, "group", cli.Group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := decodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "partition", m.Partition, "error", err)
			continue
		}

		applied, err := updateRedisWithRetry(ctx, radapter, ev, 3, 200*time.Millisecond)
		switch {
		case err != nil:
			redisErrors.Inc()
			logger.Error("redis update failed", "driver_id", ev.DriverID, "error", err)
		case !applied:
			msgsStale.Inc()
			logger.Debug("stale location skipped", "driver_id", ev.DriverID, "at", ev.At)
		default:
			redisUpdates.Inc()
		}
	}
}

func serveMetrics(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func decodeLocation(b []byte) (ingest.LocationEvent, error) {
	var ev ingest.LocationEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, err
	}
	if ev.DriverID == "" {
		return ev, errors.New("driverId is required")
	}
	if !maps.ValidCoord(models.Coord{Lat: ev.Lat, Lng: ev.Lng}) {
		return ev, errors.New("coordinates out of range")
	}
	return ev, nil
}

// RedisUpdater is the subset of redis operations the consumer needs.
type RedisUpdater interface {
	LastSeen(ctx context.Context, driverID string) (time.Time, bool, error)
	GeoAdd(ctx context.Context, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct {
	c      *redis.Client
	geoKey string
}

func (r *redisAdapter) LastSeen(ctx context.Context, driverID string) (time.Time, bool, error) {
	v, err := r.c.HGet(ctx, metaKey(driverID), "at").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (r *redisAdapter) GeoAdd(ctx context.Context, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, r.geoKey, loc).Err()
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func metaKey(driverID string) string { return "driver:meta:" + driverID }

// updateRedisWithRetry writes the position unless a newer one is already
// stored. It reports whether the event was applied.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, ev ingest.LocationEvent, attempts int, delay time.Duration) (bool, error) {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if !sleep(ctx, delay) {
				return false, ctx.Err()
			}
			delay *= 2
		}
		var applied bool
		applied, err = updateRedis(ctx, rc, ev)
		if err == nil {
			return applied, nil
		}
	}
	return false, err
}

func updateRedis(ctx context.Context, rc RedisUpdater, ev ingest.LocationEvent) (bool, error) {
	if !ev.At.IsZero() {
		last, ok, err := rc.LastSeen(ctx, ev.DriverID)
		if err != nil {
			return false, err
		}
		if ok && ev.At.Before(last) {
			return false, nil
		}
	}
	if err := rc.GeoAdd(ctx, &redis.GeoLocation{Longitude: ev.Lng, Latitude: ev.Lat, Name: ev.DriverID}); err != nil {
		return false, err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	err := rc.HSet(ctx, metaKey(ev.DriverID), map[string]interface{}{
		"lat": ev.Lat,
		"lng": ev.Lng,
		"at":  at.UnixMilli(),
	})
	return err == nil, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
