// Package config loads service configuration from Go defaults, an optional
// YAML file named by CONFIG_FILE and ORDERFLOW_ environment variables, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "ORDERFLOW_"
	fileEnv   = "CONFIG_FILE"

	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	HTTP struct {
		Port            string        `koanf:"port"`
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Storage struct {
		Driver string `koanf:"driver"`
	} `koanf:"storage"`

	Postgres struct {
		URL          string `koanf:"url"`
		MaxOpenConns int    `koanf:"max_open_conns"`
	} `koanf:"postgres"`

	Migrations struct {
		Path string `koanf:"path"`
	} `koanf:"migrations"`

	Kafka struct {
		Brokers string `koanf:"brokers"`
		GroupID string `koanf:"group_id"`
	} `koanf:"kafka"`

	Redis struct {
		Addr           string        `koanf:"addr"`
		Password       string        `koanf:"password"`
		DB             int           `koanf:"db"`
		IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	} `koanf:"redis"`

	Services struct {
		Users     string `koanf:"users"`
		Products  string `koanf:"products"`
		Inventory string `koanf:"inventory"`
		Orders    string `koanf:"orders"`
		Notify    string `koanf:"notify"`
	} `koanf:"services"`

	Lookup struct {
		Timeout     time.Duration `koanf:"timeout"`
		MaxAttempts int           `koanf:"max_attempts"`
		Backoff     time.Duration `koanf:"backoff"`
	} `koanf:"lookup"`

	Telemetry struct {
		ServiceName    string `koanf:"service_name"`
		ServiceVersion string `koanf:"service_version"`
		OTLPEndpoint   string `koanf:"otlp_endpoint"`
		TracingEnabled bool   `koanf:"tracing_enabled"`
	} `koanf:"telemetry"`

	Log struct {
		Level string `koanf:"level"`
		File  string `koanf:"file"`
	} `koanf:"log"`
}

// Default returns the settings a service starts from before any file or
// environment overlay.
func Default(service, port string) Config {
	var c Config

	c.HTTP.Port = port
	c.HTTP.ReadTimeout = 10 * time.Second
	c.HTTP.WriteTimeout = 10 * time.Second
	c.HTTP.ShutdownTimeout = 10 * time.Second

	c.Storage.Driver = StorageDriverPostgres
	c.Postgres.MaxOpenConns = 10
	c.Migrations.Path = "file://migrations"

	c.Kafka.GroupID = service

	c.Redis.IdempotencyTTL = 24 * time.Hour

	c.Lookup.Timeout = 2 * time.Second
	c.Lookup.MaxAttempts = 2
	c.Lookup.Backoff = 100 * time.Millisecond

	c.Telemetry.ServiceName = service
	c.Telemetry.ServiceVersion = "0.1.0"
	c.Telemetry.OTLPEndpoint = "localhost:4317"
	c.Telemetry.TracingEnabled = true

	c.Log.Level = "info"

	return c
}

// Load overlays CONFIG_FILE (when set) and ORDERFLOW_ variables on top of
// Default. Nested keys use a double underscore, e.g. ORDERFLOW_POSTGRES__URL.
func Load(service, port string) (Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(fileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	cfg := Default(service, port)
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ReplaceAll(s, "__", ".")
	return strings.ToLower(s)
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageDriverPostgres, StorageDriverMemory, c.Storage.Driver)
	}
	if c.HTTP.Port == "" {
		return errors.New("http.port required")
	}
	if c.Lookup.MaxAttempts < 1 {
		return errors.New("lookup.max_attempts must be at least 1")
	}
	return nil
}

// Require reports every named key that has no value. Services call it with
// the keys they cannot start without.
func (c Config) Require(keys ...string) error {
	values := map[string]string{
		"postgres.url":       c.Postgres.URL,
		"kafka.brokers":      c.Kafka.Brokers,
		"redis.addr":         c.Redis.Addr,
		"services.users":     c.Services.Users,
		"services.products":  c.Services.Products,
		"services.inventory": c.Services.Inventory,
		"services.orders":    c.Services.Orders,
		"services.notify":    c.Services.Notify,
	}

	var missing []string
	for _, key := range keys {
		v, known := values[key]
		if !known {
			return fmt.Errorf("unknown config key %q", key)
		}
		if v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// UsePostgres is false when the service runs on in-memory stores.
func (c Config) UsePostgres() bool {
	return c.Storage.Driver == StorageDriverPostgres
}

func (c Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
