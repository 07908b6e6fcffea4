package config

import (
	"github.com/replicore/wscache/internal/bytesize"
	"github.com/replicore/wscache/internal/logger"
)

// Defaults mirror the engine's shipped configuration: pages the size of
// the ring buffer, nothing retained after release, encryption off with a
// 16Mi read cache of 32Ki pages when turned on.
const (
	DefaultName           = "wscache.cache"
	DefaultPageSize       = 128 * bytesize.MiB
	DefaultKeepPagesSize  = 0
	DefaultKeepPagesCount = 0
	DefaultEncCachePage   = 32 * bytesize.KiB
	DefaultEncCacheSize   = 16 * bytesize.MiB
	DefaultMetricsListen  = "127.0.0.1:9419"
)

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		Dir:            ".",
		Name:           DefaultName,
		PageSize:       DefaultPageSize,
		KeepPagesSize:  DefaultKeepPagesSize,
		KeepPagesCount: DefaultKeepPagesCount,
		Encryption: EncryptionConfig{
			Enabled:       false,
			CachePageSize: DefaultEncCachePage,
			CacheSize:     DefaultEncCacheSize,
		},
		Debug: 0,
		Logging: logger.Config{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsListen,
		},
	}
}
