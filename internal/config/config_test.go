package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerConfigFromEnv(t *testing.T) {
	t.Setenv("JOURNEY_DATABASE_HOST", "db.internal")
	t.Setenv("JOURNEY_DATABASE_DBNAME", "journeys")
	t.Setenv("JOURNEY_DATABASE_USER", "engine")
	t.Setenv("JOURNEY_WORKER_POOL_SIZE", "8")
	t.Setenv("JOURNEY_REPORTING_PERIOD_END", "2024-06-30")

	cfg, err := LoadWorkerConfig("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "journeys", cfg.Database.DBName)
	assert.Equal(t, 8, cfg.Worker.PoolSize)
	assert.Equal(t, "2024-06-30", cfg.Reporting.PeriodEnd)
	// defaults
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "derivation-worker", cfg.Kafka.GroupID)
	assert.Equal(t, 30, cfg.Reporting.MaturityDays)
}

func TestLoadWorkerConfigRequiresDatabase(t *testing.T) {
	_, err := LoadWorkerConfig("", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "engine",
		Password: "secret",
		DBName:   "journeys",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=engine password=secret dbname=journeys sslmode=disable",
		db.DSN())
}

func TestPeriodEndDate(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

	t.Run("explicit period end", func(t *testing.T) {
		c := ReportingConfig{PeriodEnd: "2024-05-31"}
		got, err := c.PeriodEndDate(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("defaults to current day", func(t *testing.T) {
		c := ReportingConfig{}
		got, err := c.PeriodEndDate(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("rejects malformed dates", func(t *testing.T) {
		c := ReportingConfig{PeriodEnd: "06/30/2024"}
		_, err := c.PeriodEndDate(now)
		require.Error(t, err)
	})
}

func TestAuthKeyMap(t *testing.T) {
	c := AuthConfig{APIKeys: []string{"abc123:warehouse", "def456", ""}}
	keys := c.KeyMap()

	assert.Equal(t, "warehouse", keys["abc123"])
	assert.Equal(t, "default", keys["def456"])
	assert.Len(t, keys, 2)
}
