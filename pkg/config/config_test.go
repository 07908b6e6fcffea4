package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replicore/wscache/internal/bytesize"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wscache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, DefaultName, cfg.Name)
	require.Equal(t, DefaultPageSize, cfg.PageSize)
	require.Equal(t, 0, cfg.KeepPagesCount)
	require.False(t, cfg.Encryption.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
dir: /var/lib/wscache
name: cluster.cache
page_size: 64Mi
keep_pages_size: 256Mi
keep_pages_count: 2
debug: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/wscache", cfg.Dir)
	require.Equal(t, "cluster.cache", cfg.Name)
	require.Equal(t, 64*bytesize.MiB, cfg.PageSize)
	require.Equal(t, 256*bytesize.MiB, cfg.KeepPagesSize)
	require.Equal(t, 2, cfg.KeepPagesCount)
	require.Equal(t, 1, cfg.Debug)
}

func TestLoadNumericSizes(t *testing.T) {
	path := writeConfig(t, "page_size: 1048576\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, bytesize.ByteSize(1048576), cfg.PageSize)
}

func TestLoadEncryptionRequiresKeyFile(t *testing.T) {
	path := writeConfig(t, `
encryption:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsTinyPageSize(t *testing.T) {
	path := writeConfig(t, "page_size: 32\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "page_size: [not, a, size\n")

	_, err := Load(path)
	require.Error(t, err)
}
