package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DefaultBufferPoolPages, cfg.BufferPoolPages)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBufferPoolPages, cfg.BufferPoolPages)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.ini")
	content := `[storage]
page_size = 8192
buffer_pool_pages = 200
lock_timeout_ms = 500
data_dir = /var/lib/pagedb
log_level = debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, 200, cfg.BufferPoolPages)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout())
	assert.Equal(t, "/var/lib/pagedb", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.ini")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nlog_level = warn\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.ini")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\npage_size = -4\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
