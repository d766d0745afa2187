package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/practicesync/internal/paths"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "PRACTICESYNC"

	cfgKeyBackend  = "backend"
	cfgKeyDataDir  = "data_dir"
	cfgKeyLogLevel = "log.level"
	cfgKeyListen   = "realtime.listen"
	cfgKeyTokenTTL = "auth.token_ttl"

	defaultListen   = ":7070"
	defaultLogLevel = "info"
)

// configFile is the structure init writes to config.yaml.
type configFile struct {
	Backend  string `yaml:"backend"`
	DataDir  string `yaml:"data_dir,omitempty"`
	Realtime struct {
		Listen string `yaml:"listen"`
		URL    string `yaml:"url,omitempty"`
	} `yaml:"realtime"`
	Auth struct {
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// loadConfig reads config.yaml from configDir using Viper, applying
// PRACTICESYNC_* environment overrides. A missing config.yaml is not an
// error. The data directory is resolved with dataDirFlag taking precedence.
// It returns the config and the configured log level.
func loadConfig(configDir, dataDirFlag string) (types.Config, string, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyListen, defaultListen)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetDefault(cfgKeyTokenTTL, types.DefaultTokenTTL)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return types.Config{}, "", fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, "", fmt.Errorf("decode config: %w", err)
	}
	// AutomaticEnv only applies to keys viper already knows.
	if s := v.GetString("auth.secret"); s != "" {
		cfg.Auth.Secret = s
	}
	if u := v.GetString("realtime.url"); u != "" {
		cfg.Realtime.URL = u
	}

	dataDir, err := paths.ResolveDataDir(dataDirFlag, cfg.DataDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return types.Config{}, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, v.GetString(cfgKeyLogLevel), nil
}

// writeConfigIfMissing creates config.yaml with default values and a fresh
// signing secret if the file does not exist. It reports whether it wrote one.
func writeConfigIfMissing(path, dataDir string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	secret, err := newSecret()
	if err != nil {
		return false, err
	}
	var cfg configFile
	cfg.Backend = types.BackendSQLite
	cfg.DataDir = dataDir
	cfg.Realtime.Listen = defaultListen
	cfg.Realtime.URL = "ws://localhost" + defaultListen + "/realtime"
	cfg.Auth.Secret = secret
	cfg.Auth.TokenTTL = types.DefaultTokenTTL.String()
	cfg.Log.Level = defaultLogLevel

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	// The file holds the signing secret.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

// newSecret returns 32 random bytes, hex encoded.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// configPath returns the config.yaml path for the resolved config directory.
func configPath(configDirFlag string) (string, string, error) {
	dir, err := paths.ResolveConfigDir(configDirFlag)
	if err != nil {
		return "", "", err
	}
	return dir, paths.ConfigFile(dir), nil
}
