package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"github.com/trackseg/server/internal/lib/geo"
	"github.com/trackseg/server/internal/lib/segment"
)

// EnvPrefix prefixes environment overrides read at Load time. "__" separates key
// levels and "_" starts a camelCase word, e.g. TRACKSEG__SEGMENTATION__FLUSH_TRAILING=true
// sets segmentation.flushTrailing. prefab's PF__ variables work the same way but are
// read once at process start.
const EnvPrefix = "TRACKSEG__"

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Segmentation SegmentationConfig `koanf:"segmentation"`
	Cache        CacheConfig        `koanf:"cache"`
	Store        StoreConfig        `koanf:"store"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig mirrors prefab's server.host and server.port; HTTP and gRPC share the port
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// SegmentationConfig holds segmentation settings
type SegmentationConfig struct {
	CollinearityDelta float64 `koanf:"collinearityDelta"`
	FlushTrailing     bool    `koanf:"flushTrailing"`
	Workers           int     `koanf:"workers"`
	// MinReportDistance filters reported segments; it can only raise the 30 m floor.
	MinReportDistance float64 `koanf:"minReportDistance"`
}

// CacheConfig holds result cache settings
type CacheConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	JanitorInterval time.Duration `koanf:"janitorInterval"`
}

// StoreConfig holds run store settings
type StoreConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8000,
		},
		Segmentation: SegmentationConfig{
			CollinearityDelta: geo.DefaultCollinearityDelta,
			FlushTrailing:     false,
			Workers:           4,
			MinReportDistance: segment.MinDistanceMeters,
		},
		Cache: CacheConfig{
			TTL:             30 * time.Minute,
			JanitorInterval: 5 * time.Minute,
		},
		Store: StoreConfig{
			Path: "trackseg.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaults() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"server.host":                    d.Server.Host,
		"server.port":                    d.Server.Port,
		"segmentation.collinearityDelta": d.Segmentation.CollinearityDelta,
		"segmentation.flushTrailing":     d.Segmentation.FlushTrailing,
		"segmentation.workers":           d.Segmentation.Workers,
		"segmentation.minReportDistance": d.Segmentation.MinReportDistance,
		"cache.ttl":                      d.Cache.TTL.String(),
		"cache.janitorInterval":          d.Cache.JanitorInterval.String(),
		"store.path":                     d.Store.Path,
		"logging.level":                  d.Logging.Level,
		"logging.format":                 d.Logging.Format,
	}
}

// Load reads the configuration from prefab.Config (prefab defaults, prefab.yaml
// and PF__ variables), the YAML file at path when set, and TRACKSEG__ variables.
func Load(path string) (*Config, error) {
	return LoadWith(prefab.Config, path)
}

// LoadWith layers defaults < base < the YAML file at path (skipped when empty)
// < TRACKSEG__ environment variables, then validates the result.
func LoadWith(base *koanf.Koanf, path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if base != nil {
		if err := k.Merge(base); err != nil {
			return nil, fmt.Errorf("failed to merge base config: %w", err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TRACKSEG__CACHE__JANITOR_INTERVAL to cache.janitorInterval
func envKey(s string) string {
	levels := strings.Split(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__")
	for i, level := range levels {
		words := strings.Split(level, "_")
		for j := 1; j < len(words); j++ {
			if words[j] != "" {
				words[j] = strings.ToUpper(words[j][:1]) + words[j][1:]
			}
		}
		levels[i] = strings.Join(words, "")
	}
	return strings.Join(levels, ".")
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Segmentation.Workers <= 0 {
		err = multierr.Append(err, fmt.Errorf("segmentation.workers must be positive, got %d", c.Segmentation.Workers))
	}
	if c.Segmentation.MinReportDistance < segment.MinDistanceMeters {
		err = multierr.Append(err, fmt.Errorf("segmentation.minReportDistance must be at least %v, got %v",
			segment.MinDistanceMeters, c.Segmentation.MinReportDistance))
	}
	if c.Segmentation.CollinearityDelta < 0 {
		err = multierr.Append(err, fmt.Errorf("segmentation.collinearityDelta must not be negative"))
	}

	if c.Cache.TTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("cache.ttl must be positive"))
	}
	if c.Cache.JanitorInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("cache.janitorInterval must be positive"))
	}

	if c.Store.Path == "" {
		err = multierr.Append(err, fmt.Errorf("store.path is required"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	return err
}
