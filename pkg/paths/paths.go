// Package paths resolves the occtl data directory and the files inside it.
//
// Resolution order:
// 1. OCCTL_DATA_DIR (explicit override, used heavily by tests)
// 2. XDG_DATA_HOME → $XDG_DATA_HOME/occtl
// 3. Platform default → ~/.local/share/occtl
package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the occtl data directory. It holds the session registry,
// its lock file, and occtl's own logs.
func DataDir() string {
	if dir := os.Getenv("OCCTL_DATA_DIR"); dir != "" {
		return dir
	}
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "occtl")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share", "occtl")
	}
	return ""
}

// StorePath returns the path to the persisted session registry.
func StorePath() string {
	return filepath.Join(DataDir(), "store.json")
}

// LockPath returns the path to the registry's sibling lock file.
func LockPath() string {
	return filepath.Join(DataDir(), "store.lock")
}

// LogDir returns the directory for occtl's own log files.
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// AgentLogDir returns the directory where the opencode server writes its
// logs. This is opencode's own layout, not ours.
func AgentLogDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share", "opencode", "log")
	}
	return ""
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	dir := DataDir()
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
