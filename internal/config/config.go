package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Wizard behaviour
	SessionTTL       time.Duration
	SessionIdleTTL   time.Duration
	LookupTimeout    time.Duration
	SubmitTimeout    time.Duration
	CandidateTTL     time.Duration
	PrefetchEnabled  bool
	RequireAvailable bool

	// Clinic directory
	ClinicName     string
	ClinicTimezone string
	DateWindowDays int
	PatientLimit   int

	// HTTP surface
	StaffJWTSecret     string
	CORSAllowedOrigins []string
	SubmitRatePerSec   float64
	SubmitBurst        int

	// Booking events
	EventsBackend         string
	BookingEventsQueueURL string
	OutboxInterval        time.Duration
	OutboxBatchSize       int
	OutboxMaxAttempts     int
	RabbitMQURL           string
	RabbitMQQueue         string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Confirmation e-mail
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SessionTTL:       getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		SessionIdleTTL:   getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		LookupTimeout:    getEnvAsDuration("LOOKUP_TIMEOUT", 10*time.Second),
		SubmitTimeout:    getEnvAsDuration("SUBMIT_TIMEOUT", 30*time.Second),
		CandidateTTL:     getEnvAsDuration("CANDIDATE_TTL", 0),
		PrefetchEnabled:  getEnvAsBool("PREFETCH_ENABLED", true),
		RequireAvailable: getEnvAsBool("REQUIRE_AVAILABLE", true),

		ClinicName:     getEnv("CLINIC_NAME", ""),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "UTC"),
		DateWindowDays: getEnvAsInt("DATE_WINDOW_DAYS", 14),
		PatientLimit:   getEnvAsInt("PATIENT_SEARCH_LIMIT", 50),

		StaffJWTSecret:     getEnv("STAFF_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		SubmitRatePerSec:   getEnvAsFloat("SUBMIT_RATE_PER_SEC", 2),
		SubmitBurst:        getEnvAsInt("SUBMIT_BURST", 5),

		EventsBackend:         strings.ToLower(strings.TrimSpace(getEnv("EVENTS_BACKEND", "memory"))),
		BookingEventsQueueURL: getEnv("BOOKING_EVENTS_QUEUE_URL", ""),
		OutboxInterval:        getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:       getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts:     getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 20),
		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		RabbitMQQueue:         getEnv("RABBITMQ_QUEUE", "booking-events"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// Location resolves ClinicTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: CLINIC_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate rejects combinations that cannot start.
func (c *Config) Validate() error {
	switch c.EventsBackend {
	case "memory":
	case "sqs":
		if c.BookingEventsQueueURL == "" {
			return fmt.Errorf("config: EVENTS_BACKEND=sqs requires BOOKING_EVENTS_QUEUE_URL")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("config: EVENTS_BACKEND=rabbitmq requires RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("config: unknown EVENTS_BACKEND %q", c.EventsBackend)
	}
	switch c.EmailProvider {
	case "auto", "sendgrid", "ses", "none":
	default:
		return fmt.Errorf("config: unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}
	if c.SubmitRatePerSec < 0 || c.SubmitBurst < 0 {
		return fmt.Errorf("config: submit rate limits must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
