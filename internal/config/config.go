package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default except JWT_SECRET. DATABASE_URL is
// required only for the postgres driver.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ServiceName     string

	// Database
	DBDriver    string // postgres | sqlite
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	SQLitePath  string

	// Redis backs the queue and the real-time relay.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Presence sessions live on their own connection.
	PresenceRedisAddr string
	SessionTTL        time.Duration
	PresenceMode      string // session | session+socket

	// Queue
	QueueBackend string // memory | redis
	QueuePrefix  string
	QueueLease   time.Duration

	// Per-channel retry policy
	EmailAttempts int
	EmailBackoff  time.Duration
	InAppAttempts int
	InAppBackoff  time.Duration

	// Worker pools
	RunWorkers       bool
	EmailConcurrency int
	InAppConcurrency int
	EmailRateMax     int
	EmailRateWindow  time.Duration
	JanitorInterval  time.Duration

	// Mail transport
	MailProvider   string // smtp | sendgrid | log
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPass       string
	SMTPTimeout    time.Duration
	SMTPInsecure   bool // skip certificate checks, local relays only
	EmailFrom      string
	BrandName      string
	SendGridAPIKey string

	// Dead letters
	KafkaBrokers []string
	DLQTopic     string

	// Auth
	JWTSecret string

	// Tracing
	OTLPEndpoint string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		ServiceName:     getEnv("SERVICE_NAME", "collab-notify"),

		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),
		SQLitePath:  getEnv("SQLITE_PATH", "collab-notify.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		SessionTTL:   getDuration("SESSION_TTL", 24*time.Hour),
		PresenceMode: getEnv("PRESENCE_MODE", PresenceModeSession),

		QueueBackend: getEnv("QUEUE_BACKEND", "redis"),
		QueuePrefix:  getEnv("QUEUE_PREFIX", "collab-notify"),
		QueueLease:   getDuration("QUEUE_LEASE", 5*time.Minute),

		EmailAttempts: getInt("EMAIL_ATTEMPTS", 5),
		EmailBackoff:  getDuration("EMAIL_BACKOFF", 5*time.Second),
		InAppAttempts: getInt("INAPP_ATTEMPTS", 3),
		InAppBackoff:  getDuration("INAPP_BACKOFF", 2*time.Second),

		RunWorkers:       getBool("RUN_WORKERS", false),
		EmailConcurrency: getInt("EMAIL_CONCURRENCY", 5),
		InAppConcurrency: getInt("INAPP_CONCURRENCY", 10),
		EmailRateMax:     getInt("EMAIL_RATE_MAX", 100),
		EmailRateWindow:  getDuration("EMAIL_RATE_WINDOW", time.Minute),
		JanitorInterval:  getDuration("JANITOR_INTERVAL", 10*time.Second),

		MailProvider:   getEnv("MAIL_PROVIDER", "smtp"),
		SMTPHost:       getEnv("SMTP_HOST", "localhost"),
		SMTPPort:       getInt("SMTP_PORT", 587),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),
		SMTPTimeout:    getDuration("SMTP_TIMEOUT", 30*time.Second),
		SMTPInsecure:   getBool("SMTP_INSECURE", false),
		EmailFrom:      getEnv("EMAIL_FROM", "no-reply@collab-notify.local"),
		BrandName:      getEnv("BRAND_NAME", "Collab"),
		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),

		KafkaBrokers: getList("KAFKA_BROKERS"),
		DLQTopic:     getEnv("DLQ_TOPIC", "notification.dlq"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	cfg.PresenceRedisAddr = getEnv("PRESENCE_REDIS_ADDR", cfg.RedisAddr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Presence modes.
const (
	PresenceModeSession       = "session"
	PresenceModeSessionSocket = "session+socket"
)

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for DB_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.QueueBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}

	switch c.PresenceMode {
	case PresenceModeSession, PresenceModeSessionSocket:
	default:
		return fmt.Errorf("unsupported PRESENCE_MODE %q", c.PresenceMode)
	}

	if c.EmailAttempts < 1 || c.InAppAttempts < 1 {
		return fmt.Errorf("EMAIL_ATTEMPTS and INAPP_ATTEMPTS must be at least 1")
	}
	if c.EmailConcurrency < 1 || c.InAppConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}

	// A lease that can run out mid-send lets a second worker deliver the
	// same email.
	if c.QueueLease <= c.SMTPTimeout {
		return fmt.Errorf("QUEUE_LEASE (%s) must exceed SMTP_TIMEOUT (%s)", c.QueueLease, c.SMTPTimeout)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
