// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dvloznov/reconciler/internal/reconcile"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Driver names.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBigQuery = "bigquery"
	DriverNone     = "none"
	DriverRedis    = "redis"
	DriverKafka    = "kafka"
)

// Config holds application configuration
type Config struct {
	HTTPPort  int
	LogLevel  string
	LogFormat string

	StoreDriver  string
	LedgerDriver string
	DatabaseURL  string
	// BankAccounts seeds the in-memory account registry, as "id[:label]" entries.
	BankAccounts []string

	BQProjectID string
	BQDataset   string

	GCSBucket string

	EventsDriver  string
	RedisAddr     string
	RedisPassword string
	RedisChannel  string
	KafkaBrokers  []string
	KafkaTopic    string

	NotionToken string
	NotionDBID  string

	PDFParsingEnabled bool
	GenAIModel        string

	Match reconcile.MatchConfig

	QueueSize       int
	WorkerCount     int
	RematchSchedule string
}

// Load reads configuration from environment variables, after loading .env if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	match := reconcile.DefaultMatchConfig()
	var err error
	cfg := &Config{
		HTTPPort:  getEnvAsInt("HTTP_PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		LedgerDriver: strings.ToLower(getEnv("LEDGER_DRIVER", DriverMemory)),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		BankAccounts: getEnvAsList("BANK_ACCOUNTS", nil),

		BQProjectID: getEnv("BQ_PROJECT_ID", ""),
		BQDataset:   getEnv("BQ_DATASET", "finance"),

		GCSBucket: getEnv("GCS_BUCKET", ""),

		EventsDriver:  strings.ToLower(getEnv("EVENTS_DRIVER", DriverNone)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "reconciliation-events"),
		KafkaBrokers:  getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "reconciliation-events"),

		NotionToken: getEnv("NOTION_TOKEN", ""),
		NotionDBID:  getEnv("NOTION_DB_ID", ""),

		PDFParsingEnabled: getEnvAsBool("PDF_PARSING_ENABLED", false),
		GenAIModel:        getEnv("GENAI_MODEL", "gemini-2.5-flash"),

		QueueSize:   getEnvAsInt("QUEUE_SIZE", 100),
		WorkerCount: getEnvAsInt("WORKER_COUNT", 5),
		// Empty disables the schedule, so only an unset variable takes the default.
		RematchSchedule: getEnvOrUnset("REMATCH_SCHEDULE", "@every 15m"),
	}

	match.DateWindowDays = getEnvAsInt("MATCH_DATE_WINDOW_DAYS", match.DateWindowDays)
	match.ConfidenceFloor = getEnvAsInt("MATCH_CONFIDENCE_FLOOR", match.ConfidenceFloor)
	match.ManualDateWindowDays = getEnvAsInt("MANUAL_DATE_WINDOW_DAYS", match.ManualDateWindowDays)
	if match.AmountTolerance, err = getEnvAsDecimal("MATCH_AMOUNT_TOLERANCE", match.AmountTolerance); err != nil {
		return nil, err
	}
	if match.ManualAmountTolerancePct, err = getEnvAsDecimal("MANUAL_AMOUNT_TOLERANCE_PCT", match.ManualAmountTolerancePct); err != nil {
		return nil, err
	}
	cfg.Match = match

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d is out of range", c.HTTPPort)
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.LedgerDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER is postgres")
		}
	case DriverBigQuery:
		if c.BQProjectID == "" {
			return fmt.Errorf("BQ_PROJECT_ID is required when LEDGER_DRIVER is bigquery")
		}
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}

	switch c.EventsDriver {
	case DriverNone:
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when EVENTS_DRIVER is redis")
		}
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTS_DRIVER is kafka")
		}
	default:
		return fmt.Errorf("unknown EVENTS_DRIVER %q", c.EventsDriver)
	}

	if (c.NotionToken == "") != (c.NotionDBID == "") {
		return fmt.Errorf("NOTION_TOKEN and NOTION_DB_ID must be set together")
	}
	if c.QueueSize < 1 || c.WorkerCount < 1 {
		return fmt.Errorf("QUEUE_SIZE and WORKER_COUNT must be positive")
	}
	if err := c.Match.Validate(); err != nil {
		return fmt.Errorf("matching configuration: %w", err)
	}
	return nil
}

// NotionEnabled reports whether finalized imports are reported to Notion.
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionDBID != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrUnset(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q", key, value)
	}
	return d, nil
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
