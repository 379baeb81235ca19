// Package config provides configuration loading for the storefront.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Catalog CatalogConfig `yaml:"catalog"`
	Carts   CartsConfig   `yaml:"carts"`
	Orders  OrdersConfig  `yaml:"orders"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CatalogConfig selects the stock ledger. DSN is ignored by the memory driver.
type CatalogConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CartsConfig: carts live in MongoDB when MongoURI is set, in memory
// otherwise. The Redis cache is used when RedisAddr is set.
type CartsConfig struct {
	MongoURI            string        `yaml:"mongo_uri"`
	MongoDBName         string        `yaml:"mongo_db_name"`
	MongoMaxPoolSize    uint64        `yaml:"mongo_max_pool_size"`
	MongoConnectTimeout time.Duration `yaml:"mongo_connect_timeout"`
	RedisAddr           string        `yaml:"redis_addr"`
	RedisPassword       string        `yaml:"redis_password"`
}

// OrdersConfig: orders live in Postgres when DatabaseURL is set.
type OrdersConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// EventsConfig: without brokers outbox events are only logged.
type EventsConfig struct {
	KafkaBrokers []string      `yaml:"kafka_brokers"`
	Topic        string        `yaml:"topic"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig runs everything in memory.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            "8080",
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Catalog: CatalogConfig{
			Driver: DriverMemory,
		},
		Carts: CartsConfig{
			MongoDBName:         "cartdb",
			MongoMaxPoolSize:    100,
			MongoConnectTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			Topic:        "order-events",
			PollInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides values with environment variables that are set.
func (c *Config) ApplyEnv() error {
	c.HTTP.Port = getEnv("HTTP_PORT", c.HTTP.Port)
	c.Catalog.Driver = getEnv("CATALOG_DRIVER", c.Catalog.Driver)
	c.Catalog.DSN = getEnv("CATALOG_DSN", c.Catalog.DSN)
	c.Carts.MongoURI = getEnv("MONGO_URI", c.Carts.MongoURI)
	c.Carts.MongoDBName = getEnv("MONGO_DB_NAME", c.Carts.MongoDBName)
	c.Carts.RedisAddr = getEnv("REDIS_ADDR", c.Carts.RedisAddr)
	c.Carts.RedisPassword = getEnv("REDIS_PASSWORD", c.Carts.RedisPassword)
	c.Orders.DatabaseURL = getEnv("ORDERS_DATABASE_URL", c.Orders.DatabaseURL)
	c.Events.Topic = getEnv("KAFKA_TOPIC", c.Events.Topic)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("MONGO_MAX_POOL_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MONGO_MAX_POOL_SIZE: %w", err)
		}
		c.Carts.MongoMaxPoolSize = n
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Events.KafkaBrokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Events.KafkaBrokers = append(c.Events.KafkaBrokers, b)
			}
		}
	}

	for key, target := range map[string]*time.Duration{
		"HTTP_REQUEST_TIMEOUT":  &c.HTTP.RequestTimeout,
		"HTTP_SHUTDOWN_TIMEOUT": &c.HTTP.ShutdownTimeout,
		"OUTBOX_POLL_INTERVAL":  &c.Events.PollInterval,
		"MONGO_CONNECT_TIMEOUT": &c.Carts.MongoConnectTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*target = d
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.HTTP.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("http.port must be a port number, got %q", c.HTTP.Port)
	}
	if c.HTTP.RequestTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}

	switch c.Catalog.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn is required for the %s driver", c.Catalog.Driver)
		}
	default:
		return fmt.Errorf("catalog.driver must be one of memory, sqlite, postgres, got %q", c.Catalog.Driver)
	}

	if c.Carts.MongoURI != "" && c.Carts.MongoDBName == "" {
		return fmt.Errorf("carts.mongo_db_name is required with carts.mongo_uri")
	}
	if c.Carts.MongoConnectTimeout < 0 {
		return fmt.Errorf("carts.mongo_connect_timeout must not be negative")
	}
	if c.Events.PollInterval <= 0 {
		return fmt.Errorf("events.poll_interval must be positive")
	}
	if c.Events.Topic == "" {
		return fmt.Errorf("events.topic is required")
	}
	if f := c.Log.Format; f != "json" && f != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", f)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
