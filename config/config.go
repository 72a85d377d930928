// Package config loads the substrate's configuration from a YAML file
// with environment variable overrides.
//
// Resolution order, later wins:
//
//  1. Programmatic defaults
//  2. The YAML file (path argument, or $EVENTFLOW_CONFIG when set)
//  3. EVENTFLOW_* environment variables
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath is the environment variable naming the config file.
const EnvConfigPath = "EVENTFLOW_CONFIG"

// Duration wraps time.Duration for YAML values like "250ms" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the substrate's full configuration.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Publisher PublisherConfig `yaml:"publisher"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Dedup     DedupConfig     `yaml:"dedup"`
}

// BrokerConfig configures the in-memory broker.
type BrokerConfig struct {
	Partitions int `yaml:"partitions"`
	BufferSize int `yaml:"buffer_size"`
}

// PublisherConfig configures the publisher and its resilience wrapper.
type PublisherConfig struct {
	Topic             string   `yaml:"topic"`
	CompressThreshold int      `yaml:"compress_threshold"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryDelay        Duration `yaml:"retry_delay"`
	BreakerThreshold  int      `yaml:"breaker_threshold"`
	BreakerCooldown   Duration `yaml:"breaker_cooldown"`
}

// ConsumerConfig configures consumers.
type ConsumerConfig struct {
	Topic        string   `yaml:"topic"`
	Group        string   `yaml:"group"`
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout Duration `yaml:"batch_timeout"`
}

// DedupConfig configures the deduplication store.
type DedupConfig struct {
	// Backend is one of "memory", "redis", "sqlite".
	Backend string `yaml:"backend"`
	// TTL is the dedup window.
	TTL Duration `yaml:"ttl"`
	// RedisAddr is the Redis address for the redis backend.
	RedisAddr string `yaml:"redis_addr"`
	// SQLitePath is the database path for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns the programmatic defaults.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Partitions: 4,
			BufferSize: 100,
		},
		Publisher: PublisherConfig{
			Topic:             "events",
			CompressThreshold: 1024,
			MaxRetries:        3,
			RetryDelay:        Duration(100 * time.Millisecond),
			BreakerThreshold:  5,
			BreakerCooldown:   Duration(30 * time.Second),
		},
		Consumer: ConsumerConfig{
			Topic:        "events",
			Group:        "default",
			BatchSize:    10,
			BatchTimeout: Duration(time.Second),
		},
		Dedup: DedupConfig{
			Backend: "memory",
			TTL:     Duration(time.Hour),
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or
// $EVENTFLOW_CONFIG when path is empty), and environment overrides. A
// missing file is only an error when it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if explicit || !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
