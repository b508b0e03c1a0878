// Package config wraps Viper with a nil-safe accessor type and loads the
// geoscout configuration file with defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/geoscout/internal/logging"
)

// EnvPrefix is the prefix for environment variable overrides
// (e.g. GEOSCOUT_SERVER_PORT).
const EnvPrefix = "GEOSCOUT"

// Config is a read-only view over a Viper instance. The zero value and a
// Config built from a nil Viper return zero values for every key.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields an empty configuration.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

func (c *Config) GetString(key string) string { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int       { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool     { return c.v.GetBool(key) }
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *Config) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub returns the subtree rooted at key. Missing subtrees yield an empty
// Config rather than nil.
func (c *Config) Sub(key string) *Config {
	return New(c.v.Sub(key))
}

// Unmarshal decodes the whole configuration into target using mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// Viper exposes the underlying instance for components that take *viper.Viper.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// Settings is the process-level part of the configuration. Plugin
// sections are read by the plugins themselves.
type Settings struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Logging logging.Config `mapstructure:"logging"`
	Store   struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`
}

// Addr is the HTTP listen address.
func (s Settings) Addr() string {
	return s.Server.Host + ":" + s.Server.Port
}

// Settings decodes the process-level sections, defaults included.
func (c *Config) Settings() (Settings, error) {
	var s Settings
	if err := c.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// SetDefaults registers the geoscout defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)

	v.SetDefault("store.path", "/root/.geoscout/geoscout.db")

	v.SetDefault("plugins.geolocate.enabled", true)
	v.SetDefault("plugins.geolocate.history.dir", "/root/.geolocate")
	v.SetDefault("plugins.geolocate.monitor.tool", "airmon-ng")
	v.SetDefault("plugins.geolocate.capture.binary", "geolocate")
	v.SetDefault("plugins.geolocate.capture.stop_grace", "5s")
	v.SetDefault("plugins.geolocate.capture.reap_orphans", true)
	v.SetDefault("plugins.geolocate.geolocation.url", "https://www.googleapis.com/geolocation/v1/geolocate")
	v.SetDefault("plugins.geolocate.geolocation.insecure_skip_verify", true)
	v.SetDefault("plugins.geolocate.geolocation.timeout", "15s")
	v.SetDefault("plugins.geolocate.geolocation.rate_per_second", 1.0)
	v.SetDefault("plugins.geolocate.geolocation.burst", 1)
}

// Load reads the configuration file at path (YAML, JSON or TOML, by
// extension). An empty path searches ./geoscout.yaml and /etc/geoscout.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("geoscout")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/geoscout")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}
