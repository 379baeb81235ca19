package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Catalog.Driver)
	assert.Equal(t, "order-events", cfg.Events.Topic)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: "9090"
  request_timeout: 5s
catalog:
  driver: sqlite
  dsn: file:catalog.db
events:
  kafka_brokers: [k1:9092, k2:9092]
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout, "unset keys keep defaults")
	assert.Equal(t, DriverSQLite, cfg.Catalog.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [not, a, map"), 0o644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "7000")
	t.Setenv("CATALOG_DRIVER", "postgres")
	t.Setenv("CATALOG_DSN", "postgres://shop@db/catalog")
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ORDERS_DATABASE_URL", "postgres://shop@db/orders")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("MONGO_MAX_POOL_SIZE", "25")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "7000", cfg.HTTP.Port)
	assert.Equal(t, DriverPostgres, cfg.Catalog.Driver)
	assert.Equal(t, "postgres://shop@db/catalog", cfg.Catalog.DSN)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Carts.MongoURI)
	assert.Equal(t, "cartdb", cfg.Carts.MongoDBName)
	assert.Equal(t, uint64(25), cfg.Carts.MongoMaxPoolSize)
	assert.Equal(t, 3*time.Second, cfg.Carts.MongoConnectTimeout)
	assert.Equal(t, "redis:6379", cfg.Carts.RedisAddr)
	assert.Equal(t, "postgres://shop@db/orders", cfg.Orders.DatabaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Events.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadDuration(t *testing.T) {
	t.Setenv("HTTP_REQUEST_TIMEOUT", "soon")
	assert.ErrorContains(t, DefaultConfig().ApplyEnv(), "HTTP_REQUEST_TIMEOUT")
}

func TestApplyEnv_BadPoolSize(t *testing.T) {
	t.Setenv("MONGO_MAX_POOL_SIZE", "-1")
	assert.ErrorContains(t, DefaultConfig().ApplyEnv(), "MONGO_MAX_POOL_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = "http" }, "http.port"},
		{"port out of range", func(c *Config) { c.HTTP.Port = "70000" }, "http.port"},
		{"zero timeout", func(c *Config) { c.HTTP.RequestTimeout = 0 }, "timeouts"},
		{"unknown driver", func(c *Config) { c.Catalog.Driver = "mysql" }, "catalog.driver"},
		{"sqlite without dsn", func(c *Config) { c.Catalog.Driver = DriverSQLite }, "catalog.dsn"},
		{"mongo without db", func(c *Config) { c.Carts.MongoURI = "mongodb://x"; c.Carts.MongoDBName = "" }, "mongo_db_name"},
		{"negative mongo timeout", func(c *Config) { c.Carts.MongoConnectTimeout = -time.Second }, "mongo_connect_timeout"},
		{"zero poll interval", func(c *Config) { c.Events.PollInterval = 0 }, "poll_interval"},
		{"no topic", func(c *Config) { c.Events.Topic = "" }, "events.topic"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
