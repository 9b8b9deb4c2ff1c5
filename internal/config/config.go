// Package config loads glimpse settings from a YAML file and GLIMPSE_* environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/glimpse/internal/logging"
	"github.com/aretw0/glimpse/pkg/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GLIMPSE_"

// Probe modes.
const (
	ProbeDecode = "decode" // decode a sample with the registered decoders
	ProbeOn     = "on"
	ProbeOff    = "off"
)

// Config is the service configuration.
type Config struct {
	Addr        string        `yaml:"addr" mapstructure:"addr"`
	HostOrigin  string        `yaml:"host_origin" mapstructure:"host_origin"`
	FormatName  string        `yaml:"format_name" mapstructure:"format_name"`
	Probe       string        `yaml:"probe" mapstructure:"probe"`
	LoadTimeout time.Duration `yaml:"load_timeout" mapstructure:"load_timeout"`
	Metrics     bool          `yaml:"metrics" mapstructure:"metrics"`

	Log   LogConfig   `yaml:"log" mapstructure:"log"`
	Fetch FetchConfig `yaml:"fetch" mapstructure:"fetch"`
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchConfig tunes the HTTP asset fetcher.
type FetchConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// RedisConfig enables the Redis snapshot store when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Lock     bool          `yaml:"lock" mapstructure:"lock"`
}

// StoreConfig selects local snapshot storage and protects snapshots at rest.
type StoreConfig struct {
	// Dir keeps snapshots on disk when Redis is not configured.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Redact lists patterns of query parameter names masked before saving.
	Redact []string `yaml:"redact" mapstructure:"redact"`
	// EncryptionKey is a base64 AES-256 key. Snapshots are sealed when set.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
	// FallbackKeys are previous keys accepted on load during rotation.
	FallbackKeys []string `yaml:"fallback_keys" mapstructure:"fallback_keys"`
}

// Keys decodes the encryption keys. It returns nil when encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey("store.encryption_key", s.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(fmt.Sprintf("store.fallback_keys[%d]", i), k)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(name, value string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes (got %d)", name, len(key))
	}
	return key, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:       ":8080",
		FormatName: domain.DefaultFormatParamTag,
		Probe:      ProbeDecode,
		Metrics:    true,
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
		Fetch: FetchConfig{Timeout: 30 * time.Second},
		Redis: RedisConfig{Prefix: "glimpse:request:", Lock: true},
	}
}

// envKeys maps environment variables to configuration paths.
var envKeys = map[string][]string{
	"ADDR":           {"addr"},
	"HOST_ORIGIN":    {"host_origin"},
	"FORMAT_NAME":    {"format_name"},
	"PROBE":          {"probe"},
	"LOAD_TIMEOUT":   {"load_timeout"},
	"METRICS":        {"metrics"},
	"LOG_LEVEL":      {"log", "level"},
	"LOG_FORMAT":     {"log", "format"},
	"FETCH_BASE_URL": {"fetch", "base_url"},
	"FETCH_TIMEOUT":  {"fetch", "timeout"},
	"REDIS_ADDR":     {"redis", "addr"},
	"REDIS_PASSWORD": {"redis", "password"},
	"REDIS_DB":       {"redis", "db"},
	"REDIS_PREFIX":   {"redis", "prefix"},
	"REDIS_TTL":      {"redis", "ttl"},
	"REDIS_LOCK":     {"redis", "lock"},

	"STORE_DIR":            {"store", "dir"},
	"STORE_REDACT":         {"store", "redact"},
	"STORE_ENCRYPTION_KEY": {"store", "encryption_key"},
	"STORE_FALLBACK_KEYS":  {"store", "fallback_keys"},
}

// Load reads path (optional) over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	overrides := map[string]any{}
	for suffix, path := range envKeys {
		value, ok := lookup(EnvPrefix + suffix)
		if !ok {
			continue
		}
		node := overrides
		for _, key := range path[:len(path)-1] {
			child, ok := node[key].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[key] = child
			}
			node = child
		}
		node[path[len(path)-1]] = value
	}
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("invalid %s environment: %w", EnvPrefix+"*", err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	switch c.Probe {
	case ProbeDecode, ProbeOn, ProbeOff:
	default:
		errs = append(errs, fmt.Errorf("probe must be one of %s, %s, %s (got %q)", ProbeDecode, ProbeOn, ProbeOff, c.Probe))
	}
	if c.LoadTimeout < 0 {
		errs = append(errs, fmt.Errorf("load_timeout must not be negative"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error (got %q)", c.Log.Level))
	}
	switch logging.Format(strings.ToLower(c.Log.Format)) {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %s or %s (got %q)", logging.FormatText, logging.FormatJSON, c.Log.Format))
	}
	if _, _, err := c.Store.Keys(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
