// Package app wires the tripdesk broker runtime: config, logging, the room
// store, the REST surface, the event fan-out, and the WebSocket gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tripdesk/cmd/internal/api"
	"tripdesk/cmd/internal/realtime"
	"tripdesk/cmd/internal/relay"
	"tripdesk/cmd/internal/stats"
	"tripdesk/cmd/internal/support"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the broker runtime: it owns the store, the event bus, and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store support.RoomStore

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *Metrics
	bus     *realtime.Broadcaster
	pub     relay.Publisher
	ws      *realtime.WSGateway
	rest    *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	statsLoc, err := statsLocation(cfg.StatsTimezone)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	store, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	pub, err := newRelay(cfg, log)
	if err != nil {
		store.Close()
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	busOpts := []realtime.BroadcasterOption{
		realtime.WithFanoutMetrics(metrics.WSSubscribers, metrics.EventsDropped),
	}
	if pub != nil {
		busOpts = append(busOpts, realtime.WithRelay(pub))
	}
	bus := realtime.NewBroadcaster(log, busOpts...)

	coord := support.NewCoordinator(log, store, support.WithClaimOutcomes(metrics.Claims))

	rest := api.NewHandler(log, store, coord, bus, api.Config{
		MessageLimit:  cfg.MessageLimit,
		MessageWindow: cfg.MessageWindow,
		Stats: stats.Config{
			ResponseWindow: cfg.StatsWindow,
			Location:       statsLoc,
		},
	}, api.WithAPIMetrics(metrics.RoomsCreated, metrics.MessagesAppended))

	ws := realtime.NewWSGateway(log, bus, realtime.GatewayConfig{
		OriginRequired:   cfg.WSOriginRequired,
		AllowedOrigins:   cfg.WSAllowedOrigins,
		DevInsecure:      cfg.WSDevInsecure,
		SendQueueSize:    cfg.WSSendQueueSize,
		HeartbeatEvery:   cfg.WSHeartbeatEvery,
		HeartbeatTimeout: cfg.WSHeartbeatTimeout,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		bus:       bus,
		pub:       pub,
		ws:        ws,
		rest:      rest,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.rest, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "relay", a.cfg.RelayDriver)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.log.Error("relay.close.fail", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory dev store.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newStore(ctx context.Context, cfg Config, log Logger) (support.RoomStore, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return support.NewMemoryStore(support.WithMemoryCloseGrace(cfg.CloseGrace)), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := support.NewPostgresStore(pool,
		support.WithSchema(cfg.DBSchema),
		support.WithCloseGrace(cfg.CloseGrace),
	)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

// newRelay builds the cross-instance event relay, or nil for driver "none".
func newRelay(cfg Config, log Logger) (relay.Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.RelayDriver)) {
	case "", relay.DriverNone:
		return nil, nil
	case relay.DriverAMQP:
		return relay.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	case relay.DriverNATS:
		return relay.NewNATSPublisher(cfg.NATSURL, cfg.NATSStream, cfg.NATSPrefix, log)
	default:
		return nil, fmt.Errorf("unknown relay driver: %q", cfg.RelayDriver)
	}
}

func statsLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TRIPDESK_STATS_TIMEZONE: %w", err)
	}
	return loc, nil
}
