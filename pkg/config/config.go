// Package config loads and validates the wscache configuration and
// exposes the runtime parameter registry.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (WSCACHE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/replicore/wscache/internal/bytesize"
	"github.com/replicore/wscache/internal/logger"
)

// Config represents the wscache configuration.
//
// The page-size and retention parameters are mutable at runtime through
// the Registry; directory, base name and encryption settings are fixed
// for the process lifetime.
type Config struct {
	// Dir is the directory page files are created in. Read-only.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Name is the base name of the cache; page files are derived from
	// it. Read-only.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// PageSize is the minimum size of a newly created page.
	PageSize bytesize.ByteSize `mapstructure:"page_size" validate:"required" yaml:"page_size"`

	// KeepPagesSize is the retained-bytes budget for empty pages.
	// Zero keeps nothing.
	KeepPagesSize bytesize.ByteSize `mapstructure:"keep_pages_size" yaml:"keep_pages_size"`

	// KeepPagesCount is the retained-page budget for empty pages.
	// Zero keeps nothing.
	KeepPagesCount int `mapstructure:"keep_pages_count" validate:"gte=0" yaml:"keep_pages_count"`

	// Encryption configures transparent page file encryption. Read-only.
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`

	// Debug is the verbosity level of the page store.
	Debug int `mapstructure:"debug" validate:"gte=0" yaml:"debug"`

	// Logging controls log output behavior.
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`

	// Metrics contains the Prometheus endpoint configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// EncryptionConfig controls transparent encryption of page files. All
// fields are read-only at runtime.
type EncryptionConfig struct {
	// Enabled turns encryption on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// KeyFile is the path to the 32-byte AES-256 key.
	KeyFile string `mapstructure:"key_file" validate:"required_if=Enabled true" yaml:"key_file"`

	// CachePageSize is the encryption granularity.
	CachePageSize bytesize.ByteSize `mapstructure:"cache_page_size" yaml:"cache_page_size"`

	// CacheSize bounds the decrypted-page cache of read-side tooling.
	CacheSize bytesize.ByteSize `mapstructure:"cache_size" yaml:"cache_size"`
}

// MetricsConfig contains the Prometheus metrics server configuration.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP endpoint.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address the endpoint binds to.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Load reads the configuration from the given path, falling back to
// defaults when no file exists.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// WSCACHE_PAGE_SIZE=256Mi overrides page_size, and so on.
	v.SetEnvPrefix("WSCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only consults the environment for keys viper knows about,
	// so bind every key explicitly; otherwise an override would apply only
	// to keys that also appear in the config file.
	for _, key := range []string{
		"dir", "name", "page_size", "keep_pages_size", "keep_pages_count", "debug",
		"encryption.enabled", "encryption.key_file",
		"encryption.cache_page_size", "encryption.cache_size",
		"logging.level", "logging.format", "logging.output",
		"metrics.enabled", "metrics.listen",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("wscache")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is acceptable; defaults apply.
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags and the
// cross-field constraints the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Encryption.Enabled && cfg.Encryption.CachePageSize == 0 {
		return fmt.Errorf("encryption.cache_page_size must be positive when encryption is enabled")
	}
	if cfg.PageSize < 64 {
		return fmt.Errorf("page_size %s is too small to hold a single buffer", cfg.PageSize)
	}

	return nil
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can say "128Mi" as well as 134217728.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML deserializes large numbers as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
