package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "STORE_DRIVER", "HISTORY_PAGE_SIZE", "SWEEPER_WORKERS", "SEED_FILE"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.HistoryPageSize)
	assert.Equal(t, 4, cfg.SweeperWorkers)
	assert.Empty(t, cfg.SeedFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("HISTORY_PAGE_SIZE", "20")
	t.Setenv("SWEEPER_WORKERS", "-3")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 20, cfg.HistoryPageSize)
	assert.Equal(t, 4, cfg.SweeperWorkers)
}
