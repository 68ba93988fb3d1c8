package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Config holds all configuration for the modelfetch application
type Config struct {
	// Server configuration
	Host string
	Port int
	Addr string // computed from Host:Port

	// File system
	StorageRoot    string // user-provided
	AbsStorageRoot string // resolved/absolute path
	ManifestPath   string // user-provided manifest of model descriptors
	DBPath         string // user-provided
	AbsDBPath      string // resolved/absolute path

	// Fetch behavior
	ChunkSize         int           // streaming copy chunk size in bytes
	InactivityTimeout time.Duration // stall watchdog; 0 disables
	Retain            int           // terminal attempts kept in memory

	// Logging
	LogLevel string // debug|info|warn|error

	// Validation & computed
	Version   string    // app version
	StartTime time.Time // when the app started
}

// New creates a Config with default values
func New() *Config {
	return &Config{
		Host:      "0.0.0.0",
		Port:      8080,
		ChunkSize: 32 * 1024,
		Retain:    128,
		LogLevel:  "info",
		StartTime: time.Now(),
		Version:   "1.0.0",
	}
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	// Validate port range
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.ManifestPath == "" {
		return fmt.Errorf("manifest path is required")
	}

	// Validate chunk size
	if c.ChunkSize < 1024 {
		c.ChunkSize = 32 * 1024
	}

	// Validate retention
	if c.Retain < 1 {
		c.Retain = 128
	}

	if c.InactivityTimeout < 0 {
		return fmt.Errorf("invalid inactivity timeout: %s", c.InactivityTimeout)
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	c.LogLevel = strings.ToLower(c.LogLevel)
	valid := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	// Compute address
	c.Addr = c.ComputeAddr()

	return nil
}

// ResolveStorageRoot expands the storage root path and resolves it to an
// absolute path. If empty, defaults to $HOME/.local/share/modelfetch.
func (c *Config) ResolveStorageRoot() error {
	if c.StorageRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		c.StorageRoot = filepath.Join(home, ".local", "share", "modelfetch")
	}

	expanded, err := expandHome(c.StorageRoot)
	if err != nil {
		return err
	}
	c.StorageRoot = expanded

	abs, err := filepath.Abs(c.StorageRoot)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.StorageRoot, err)
	}
	c.AbsStorageRoot = abs

	return nil
}

// ResolveDBPath expands the database path and resolves it to an absolute
// path. If empty, defaults to the OS cache directory.
func (c *Config) ResolveDBPath() error {
	if c.DBPath == "" {
		c.DBPath = defaultCacheDBPath()
	}

	expanded, err := expandHome(c.DBPath)
	if err != nil {
		return err
	}
	c.DBPath = expanded

	abs, err := filepath.Abs(c.DBPath)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.DBPath, err)
	}
	c.AbsDBPath = abs

	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return home, nil
	}
	return path, nil
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String returns a pretty-printed representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf(`Config{
  Server:
    Host: %s
    Port: %d
    Addr: %s
  Files:
    StorageRoot: %s (resolved: %s)
    Manifest: %s
    DBPath: %s (resolved: %s)
  Fetch:
    ChunkSize: %d
    InactivityTimeout: %s
    Retain: %d
  Logging:
    LogLevel: %s
  Meta:
    Version: %s
    StartTime: %s
}`, c.Host, c.Port, c.Addr,
		c.StorageRoot, c.AbsStorageRoot,
		c.ManifestPath,
		c.DBPath, c.AbsDBPath,
		c.ChunkSize, c.InactivityTimeout, c.Retain,
		c.LogLevel,
		c.Version, c.StartTime.Format(time.RFC3339))
}

// Summary returns a one-line summary of key configuration
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"storage_root":       c.AbsStorageRoot,
		"manifest":           c.ManifestPath,
		"db_path":            c.AbsDBPath,
		"chunk_size":         c.ChunkSize,
		"inactivity_timeout": c.InactivityTimeout.String(),
		"retain":             c.Retain,
		"log_level":          c.LogLevel,
		"version":            c.Version,
	}
}

// defaultCacheDBPath returns the cross-platform default path for the SQLite DB
// - Windows: %APPDATA%/modelfetch/modelfetch.db
// - Linux/macOS: $HOME/.cache/modelfetch/modelfetch.db
func defaultCacheDBPath() string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "modelfetch", "modelfetch.db")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "modelfetch", "modelfetch.db")
		}
		// Last resort: current directory
		return "modelfetch.db"
	}
	// Linux/macOS default cache location
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "modelfetch", "modelfetch.db")
	}
	// Fallback: place in working directory
	return filepath.Join("modelfetch", "modelfetch.db")
}
