// Package config loads engine configuration from an ini file. Every knob has
// a default so an absent or partial file still yields a runnable engine.
package config

import (
	"time"

	"gopkg.in/ini.v1"

	"pagedb/pkg/dberr"
	"pagedb/pkg/logger"
	"pagedb/pkg/storage/page"
)

const (
	DefaultPageSize        = 4096
	DefaultBufferPoolPages = 50
	DefaultLockTimeout     = 2 * time.Second
	DefaultDataDir         = "data"
	DefaultLogLevel        = "info"
)

// Cfg holds the engine configuration.
type Cfg struct {
	// PageSize is the uniform page size in bytes for heap files and
	// non-root-pointer B+-tree pages. The buffer pool owns this value.
	PageSize int `ini:"page_size"`

	// BufferPoolPages is the number of pages the buffer pool caches.
	BufferPoolPages int `ini:"buffer_pool_pages"`

	// LockTimeoutMs bounds how long a transaction waits for a page lock
	// before the wait is reported as TransactionAborted.
	LockTimeoutMs int `ini:"lock_timeout_ms"`

	// DataDir is where table and index files live.
	DataDir string `ini:"data_dir"`

	// LogLevel is a logrus level name.
	LogLevel string `ini:"log_level"`
}

// Default returns a configuration with every field set to its default.
func Default() *Cfg {
	return &Cfg{
		PageSize:        DefaultPageSize,
		BufferPoolPages: DefaultBufferPoolPages,
		LockTimeoutMs:   int(DefaultLockTimeout / time.Millisecond),
		DataDir:         DefaultDataDir,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads the [storage] section of an ini file, filling unset keys with
// defaults. A missing file is not an error: defaults are returned.
func Load(path string) (*Cfg, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, dberr.Wrap(dberr.IoError, err, "failed to load config file "+path)
	}

	if err := file.Section("storage").MapTo(cfg); err != nil {
		return nil, dberr.Wrap(dberr.IllegalArgument, err, "malformed storage section in "+path)
	}

	if cfg.PageSize <= 0 {
		return nil, dberr.New(dberr.IllegalArgument, "page_size must be positive, got %d", cfg.PageSize)
	}
	if cfg.BufferPoolPages <= 0 {
		return nil, dberr.New(dberr.IllegalArgument, "buffer_pool_pages must be positive, got %d", cfg.BufferPoolPages)
	}
	return cfg, nil
}

// Apply installs the configuration into the engine: the page size used by
// all file layouts and the logger's level. Call once at startup, before any
// file is opened.
func (c *Cfg) Apply() {
	page.SetPageSize(c.PageSize)
	logger.Init(c.LogLevel, nil)
}

// LockTimeout returns the lock wait bound as a duration.
func (c *Cfg) LockTimeout() time.Duration {
	if c.LockTimeoutMs <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}
