package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.huddle.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".huddle")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// CacheDBPath returns the snapshot cache.db path for a session.
func CacheDBPath(name string) string {
	return filepath.Join(Dir(name), "cache.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the engine log file path for a session.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "huddled.log")
}

// EnsureDir creates the session directory if needed.
func EnsureDir(name string) error {
	return os.MkdirAll(Dir(name), 0700)
}
