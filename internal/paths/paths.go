// Package paths resolves where practicesync keeps its configuration and its
// row data.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "practicesync"

// ConfigFileName is the config file inside the configuration directory.
const ConfigFileName = "config.yaml"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "PRACTICESYNC_CONFIG_DIR"
	EnvDataDir   = "PRACTICESYNC_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/practicesync (fallback ~/.config/practicesync)
// macOS:   ~/Library/Application Support/practicesync
// Windows: %APPDATA%/practicesync
func DefaultConfigDir() (string, error) {
	return platformPath("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/practicesync (fallback ~/.local/share/practicesync)
// macOS and Windows: the config directory, under "data".
func DefaultDataDir() (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "data"), nil
	}
	return platformPath("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// platformPath returns $xdgEnv/practicesync on Linux, falling back to
// ~/homeRel/practicesync. Other platforms use os.UserConfigDir.
func platformPath(xdgEnv, homeRel string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, AppName), nil
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > PRACTICESYNC_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > config file value > PRACTICESYNC_DATA_DIR env > DefaultDataDir().
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	return DefaultDataDir()
}

// ConfigFile returns the path of the config file in configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}
