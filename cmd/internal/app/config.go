package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// CloseGrace allows message appends for this long after a room closes.
	// Zero (the default) rejects appends the moment the room is closed.
	CloseGrace time.Duration

	// Per-sender message append limit on the REST surface.
	MessageLimit  int
	MessageWindow time.Duration

	// StatsWindow bounds the avg-response-time sample set.
	// Zero means "the current calendar day" in StatsTimezone.
	StatsWindow   time.Duration
	StatsTimezone string

	WSOriginRequired   bool
	WSAllowedOrigins   []string
	WSDevInsecure      bool
	WSSendQueueSize    int
	WSHeartbeatEvery   time.Duration
	WSHeartbeatTimeout time.Duration

	// RelayDriver selects the cross-instance event relay: none, amqp, nats.
	RelayDriver  string
	AMQPURL      string
	AMQPExchange string
	NATSURL      string
	NATSStream   string
	NATSPrefix   string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TRIPDESK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TRIPDESK_LOG_LEVEL", "info"),
		LogFormat: EnvString("TRIPDESK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TRIPDESK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TRIPDESK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TRIPDESK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TRIPDESK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TRIPDESK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TRIPDESK_DATABASE_URL", ""),
		DBSchema:    EnvString("TRIPDESK_DB_SCHEMA", "tripdesk"),
		DBMaxConns:  EnvInt32("TRIPDESK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TRIPDESK_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TRIPDESK_READINESS_REQUIRE_DB", false),

		CloseGrace: EnvDuration("TRIPDESK_CLOSE_GRACE", 0),

		MessageLimit:  EnvInt("TRIPDESK_MESSAGE_RATE_LIMIT", 20),
		MessageWindow: EnvDuration("TRIPDESK_MESSAGE_RATE_WINDOW", 10*time.Second),

		StatsWindow:   EnvDuration("TRIPDESK_STATS_WINDOW", 0),
		StatsTimezone: EnvString("TRIPDESK_STATS_TIMEZONE", ""),

		WSOriginRequired:   EnvBool("TRIPDESK_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:   EnvCSV("TRIPDESK_WS_ALLOWED_ORIGINS", nil),
		WSDevInsecure:      EnvBool("TRIPDESK_WS_DEV_INSECURE", false),
		WSSendQueueSize:    EnvInt("TRIPDESK_WS_SEND_QUEUE", 0),
		WSHeartbeatEvery:   EnvDuration("TRIPDESK_WS_HEARTBEAT_EVERY", 0),
		WSHeartbeatTimeout: EnvDuration("TRIPDESK_WS_HEARTBEAT_TIMEOUT", 0),

		RelayDriver:  EnvString("TRIPDESK_RELAY_DRIVER", "none"),
		AMQPURL:      EnvString("TRIPDESK_AMQP_URL", ""),
		AMQPExchange: EnvString("TRIPDESK_AMQP_EXCHANGE", "tripdesk.events"),
		NATSURL:      EnvString("TRIPDESK_NATS_URL", ""),
		NATSStream:   EnvString("TRIPDESK_NATS_STREAM", "TRIPDESK_EVENTS"),
		NATSPrefix:   EnvString("TRIPDESK_NATS_PREFIX", "tripdesk.events"),
	}
}
