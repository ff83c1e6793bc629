// Package config loads the YAML + environment-variable configuration
// recognized by both cryptobars binaries (spec.md §6), grounded on the
// teacher's gopkg.in/yaml.v3 provider-config loader and the original's
// pydantic-settings env_nested_delimiter="__" convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cryptorun-bars/internal/errs"
)

// Mode selects whether a product's adapter runs live or backfills history.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeHistorical Mode = "historical"
)

// AggregationType selects the bar-closing policy for one product.
type AggregationType string

const (
	AggregationVolume        AggregationType = "volume"
	AggregationTickImbalance AggregationType = "tick imbalance"
	AggregationTime          AggregationType = "time"
)

// Config is the fully-resolved, validated configuration for one cryptobars
// process.
type Config struct {
	Kafka              KafkaConfig      `yaml:"kafka"`
	Exchanges          []ExchangeConfig `yaml:"exchanges"`
	Products           []ProductConfig  `yaml:"products"`
	LiveOrHistorical   Mode             `yaml:"live_or_historical"`
	LastNDays          int              `yaml:"last_n_days"`
	CacheDirHistorical string           `yaml:"cache_dir_historical_data"`
	BufferSize         int              `yaml:"buffer_size"`
	SaveEveryNSec      int              `yaml:"save_every_n_sec"`
	MetricsPort        int              `yaml:"metrics_port"`
	Persistence        PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig names the optional durable backends layered on top of
// the in-memory bus and feature-store writer. Both fields default to
// empty, meaning "stay in-memory" — set either to opt a deployment into
// durability across process restarts.
type PersistenceConfig struct {
	// RedisCheckpointAddr, if set, durably persists consumer-group offsets
	// (host:port). The stored offsets are written only; a restarted build
	// process does not resume from them.
	RedisCheckpointAddr string `yaml:"redis_checkpoint_addr"`
	// PostgresDSN, if set, routes emitted bars to a Postgres-backed
	// feature-store writer instead of the in-memory reference one.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// KafkaConfig names the bus topics and consumer-group identity, per
// spec.md §6 (the in-memory internal/stream.EventBus used today reads
// these fields for naming/labels even though it is not a real Kafka
// client).
type KafkaConfig struct {
	BrokerAddress          string `yaml:"broker_address"`
	InputTopic             string `yaml:"input_topic"`
	OutputTopic            string `yaml:"output_topic"`
	ConsumerGroup          string `yaml:"consumer_group"`
	CreateNewConsumerGroup bool   `yaml:"create_new_consumer_group"`
}

// ExchangeConfig is one venue to subscribe to.
type ExchangeConfig struct {
	Name     string   `yaml:"name"`
	Channels []string `yaml:"channels"`
}

// ProductConfig is one product to build bars for.
type ProductConfig struct {
	Coin        string            `yaml:"coin"`
	Aggregation AggregationConfig `yaml:"aggregation"`
}

// AggregationConfig selects the threshold policy for one product.
type AggregationConfig struct {
	Type     AggregationType `yaml:"type"`
	Interval float64         `yaml:"interval"`
}

// Load reads and validates configuration from path, then overlays any
// matching `KAFKA__BROKER_ADDRESS`-style double-underscore-nested
// environment variables (mirroring the original's
// env_nested_delimiter="__"). A missing file or any validation failure is
// a ConfigError, fatal per spec.md §7.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config(fmt.Errorf("read config %s: %w", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Config(fmt.Errorf("parse config %s: %w", path, err))
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errs.Config(err)
	}

	return &cfg, nil
}

// applyEnvOverrides mirrors the original's pydantic-settings nested-env
// convention: `KAFKA__BROKER_ADDRESS`, `LIVE_OR_HISTORICAL`,
// `LAST_N_DAYS`, `CACHE_DIR_HISTORICAL_DATA` override their YAML
// counterparts when set.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("KAFKA__BROKER_ADDRESS"); ok {
		cfg.Kafka.BrokerAddress = v
	}
	if v, ok := os.LookupEnv("KAFKA__INPUT_TOPIC"); ok {
		cfg.Kafka.InputTopic = v
	}
	if v, ok := os.LookupEnv("KAFKA__OUTPUT_TOPIC"); ok {
		cfg.Kafka.OutputTopic = v
	}
	if v, ok := os.LookupEnv("KAFKA__CONSUMER_GROUP"); ok {
		cfg.Kafka.ConsumerGroup = v
	}
	if v, ok := os.LookupEnv("LIVE_OR_HISTORICAL"); ok {
		cfg.LiveOrHistorical = Mode(v)
	}
	if v, ok := os.LookupEnv("LAST_N_DAYS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LastNDays = n
		}
	}
	if v, ok := os.LookupEnv("CACHE_DIR_HISTORICAL_DATA"); ok {
		cfg.CacheDirHistorical = v
	}
}

// Validate enforces the required fields for a runnable configuration.
func (c *Config) Validate() error {
	if c.Kafka.BrokerAddress == "" {
		return fmt.Errorf("kafka.broker_address is required")
	}
	if c.Kafka.InputTopic == "" || c.Kafka.OutputTopic == "" {
		return fmt.Errorf("kafka.input_topic and kafka.output_topic are required")
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	for _, ex := range c.Exchanges {
		name := strings.ToLower(ex.Name)
		if name != "coinbase" && name != "kraken" {
			return fmt.Errorf("unsupported exchange %q", ex.Name)
		}
	}
	if len(c.Products) == 0 {
		return fmt.Errorf("at least one product must be configured")
	}
	for _, p := range c.Products {
		switch p.Aggregation.Type {
		case AggregationVolume, AggregationTickImbalance, AggregationTime:
		default:
			return fmt.Errorf("product %s: unsupported aggregation type %q", p.Coin, p.Aggregation.Type)
		}
		if p.Aggregation.Interval <= 0 {
			return fmt.Errorf("product %s: aggregation.interval must be positive", p.Coin)
		}
	}
	switch c.LiveOrHistorical {
	case ModeLive:
	case ModeHistorical:
		if c.LastNDays <= 0 {
			return fmt.Errorf("last_n_days must be positive for historical mode")
		}
		if c.CacheDirHistorical == "" {
			return fmt.Errorf("cache_dir_historical_data is required for historical mode")
		}
	default:
		return fmt.Errorf("live_or_historical must be %q or %q, got %q", ModeLive, ModeHistorical, c.LiveOrHistorical)
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.SaveEveryNSec <= 0 {
		c.SaveEveryNSec = 10
	}
	if c.MetricsPort <= 0 {
		c.MetricsPort = 9090
	}
	return nil
}
