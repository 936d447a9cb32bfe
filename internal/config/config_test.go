package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, DriverMemory, cfg.LedgerDriver)
	assert.Equal(t, DriverNone, cfg.EventsDriver)
	assert.Equal(t, "finance", cfg.BQDataset)
	assert.Equal(t, "@every 15m", cfg.RematchSchedule)
	assert.Equal(t, 5, cfg.Match.DateWindowDays)
	assert.Equal(t, 60, cfg.Match.ConfidenceFloor)
	assert.True(t, cfg.Match.AmountTolerance.Equal(decimal.RequireFromString("0.01")))
	assert.False(t, cfg.NotionEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("LEDGER_DRIVER", "bigquery")
	t.Setenv("DATABASE_URL", "postgres://localhost/reconciler")
	t.Setenv("BQ_PROJECT_ID", "acme-finance")
	t.Setenv("EVENTS_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("NOTION_TOKEN", "secret")
	t.Setenv("NOTION_DB_ID", "db")
	t.Setenv("MATCH_AMOUNT_TOLERANCE", "0.50")
	t.Setenv("MATCH_CONFIDENCE_FLOOR", "75")
	t.Setenv("REMATCH_SCHEDULE", "")
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, DriverBigQuery, cfg.LedgerDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.NotionEnabled())
	assert.True(t, cfg.Match.AmountTolerance.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 75, cfg.Match.ConfidenceFloor)
	assert.Empty(t, cfg.RematchSchedule)
	assert.Equal(t, 5, cfg.WorkerCount)
}

func TestLoad_InvalidDecimal(t *testing.T) {
	t.Setenv("MANUAL_AMOUNT_TOLERANCE_PCT", "five")
	_, err := Load()
	assert.ErrorContains(t, err, "MANUAL_AMOUNT_TOLERANCE_PCT")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		t.Helper()
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"postgres store without url", func(c *Config) { c.StoreDriver = DriverPostgres }, "DATABASE_URL"},
		{"postgres ledger without url", func(c *Config) { c.LedgerDriver = DriverPostgres }, "DATABASE_URL"},
		{"bigquery without project", func(c *Config) { c.LedgerDriver = DriverBigQuery }, "BQ_PROJECT_ID"},
		{"unknown store", func(c *Config) { c.StoreDriver = "sqlite" }, "STORE_DRIVER"},
		{"unknown events", func(c *Config) { c.EventsDriver = "nats" }, "EVENTS_DRIVER"},
		{"kafka without topic", func(c *Config) { c.EventsDriver = DriverKafka; c.KafkaTopic = "" }, "KAFKA_TOPIC"},
		{"notion half configured", func(c *Config) { c.NotionToken = "secret" }, "NOTION_DB_ID"},
		{"floor above 100", func(c *Config) { c.Match.ConfidenceFloor = 101 }, "confidence floor"},
		{"negative window", func(c *Config) { c.Match.DateWindowDays = -1 }, "non-negative"},
		{"zero workers", func(c *Config) { c.WorkerCount = 0 }, "WORKER_COUNT"},
		{"bad port", func(c *Config) { c.HTTPPort = 70000 }, "HTTP_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
