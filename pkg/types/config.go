package types

import (
	"errors"
	"strings"
	"time"
)

// Config holds backend selection and runtime parameters.
type Config struct {
	Backend  string         `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir  string         `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Realtime RealtimeConfig `json:"realtime" yaml:"realtime" mapstructure:"realtime"`
	Auth     AuthConfig     `json:"auth" yaml:"auth" mapstructure:"auth"`
	Sync     SyncConfig     `json:"sync" yaml:"sync" mapstructure:"sync"`
}

// RealtimeConfig configures the websocket change transport.
type RealtimeConfig struct {
	// Listen is the address the serve command binds, e.g. ":7070".
	Listen string `json:"listen" yaml:"listen" mapstructure:"listen"`
	// URL is the websocket endpoint watchers dial, e.g. "ws://localhost:7070/realtime".
	URL string `json:"url" yaml:"url" mapstructure:"url"`
	// WatchFiles makes the backend reload tables rewritten by other processes.
	WatchFiles bool `json:"watch_files" yaml:"watch_files" mapstructure:"watch_files"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	Secret   string        `json:"-" yaml:"secret,omitempty" mapstructure:"secret"`
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl" mapstructure:"token_ttl"`
}

// SyncConfig tunes synchronized collections.
type SyncConfig struct {
	FetchTimeout      time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	ReconnectDebounce time.Duration `json:"reconnect_debounce" yaml:"reconnect_debounce" mapstructure:"reconnect_debounce"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Defaults applied when a value is zero.
const (
	DefaultTokenTTL          = 24 * time.Hour
	DefaultFetchTimeout      = 30 * time.Second
	DefaultReconnectDebounce = 250 * time.Millisecond
)

// Config validation errors.
var (
	ErrBackendEmpty      = errors.New("backend must not be empty")
	ErrBackendUnknown    = errors.New("unknown backend")
	ErrDurationNegative  = errors.New("durations must not be negative")
	ErrRealtimeURLScheme = errors.New("realtime url must use ws or wss")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Auth.TokenTTL < 0 || c.Sync.FetchTimeout < 0 || c.Sync.ReconnectDebounce < 0 {
		return ErrDurationNegative
	}
	if u := c.Realtime.URL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return ErrRealtimeURLScheme
	}
	return nil
}

// WithDefaults returns a copy of c with zero durations replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = DefaultFetchTimeout
	}
	if c.Sync.ReconnectDebounce == 0 {
		c.Sync.ReconnectDebounce = DefaultReconnectDebounce
	}
	return c
}

