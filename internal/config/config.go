// Package config loads csync settings from flags, the environment, an
// optional .env file and an optional config file.
//
// Precedence, highest first: explicit flag values, CSYNC_* environment
// variables, .env in the working directory, the config file, built-in
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "CSYNC"

// Keys. Environment names are the upper-cased key with the prefix, e.g.
// data_dir -> CSYNC_DATA_DIR.
const (
	KeyProjectID    = "project_id"
	KeyDataset      = "dataset"
	KeyToken        = "token"
	KeyDataDir      = "data_dir"
	KeyLogMode      = "log_mode"
	KeyLogFile      = "log_file"
	KeyDebug        = "debug"
	KeyImageBaseURL = "image_base_url"
	KeyAssetCache   = "asset_cache"
	KeyEventsPort   = "events_port"
)

// ErrNoToken is returned by RequireToken when no write token is configured.
var ErrNoToken = errors.New("no write token configured (set CSYNC_TOKEN)")

// Config is the resolved configuration.
type Config struct {
	ProjectID    string `mapstructure:"project_id"`
	Dataset      string `mapstructure:"dataset"`
	Token        string `mapstructure:"token"`
	DataDir      string `mapstructure:"data_dir"`
	LogMode      string `mapstructure:"log_mode"`
	LogFile      string `mapstructure:"log_file"`
	Debug        bool   `mapstructure:"debug"`
	ImageBaseURL string `mapstructure:"image_base_url"`
	AssetCache   string `mapstructure:"asset_cache"`
	EventsPort   int    `mapstructure:"events_port"`
}

// New returns a viper instance with csync defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDataset, "production")
	v.SetDefault(KeyDataDir, ".csync")
	v.SetDefault(KeyLogMode, "console")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyEventsPort, 8090)

	// AutomaticEnv only resolves keys viper already knows about.
	for _, k := range []string{KeyProjectID, KeyToken, KeyLogFile, KeyImageBaseURL, KeyAssetCache} {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads .env from dir and a config file into v, and returns the resolved
// Config. With configFile empty, config.{yaml,toml,json} in dir is used when
// present; an explicit configFile must exist and may be any format viper
// reads.
//
// Example:
//
//	v := config.New()
//	_ = v.BindPFlag(config.KeyDataset, cmd.Flags().Lookup("dataset"))
//	cfg, err := config.Load(v, ".", "")
func Load(v *viper.Viper, dir, configFile string) (*Config, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project id is required (set CSYNC_PROJECT_ID or --project)")
	}
	if strings.ContainsAny(c.ProjectID, `/\`) || strings.ContainsAny(c.Dataset, `/\`) {
		return fmt.Errorf("project id and dataset must not contain path separators")
	}
	if c.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	switch c.LogMode {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log mode %q (use console or json)", c.LogMode)
	}
	return nil
}

// ReadOnly reports whether the store must be opened without write access.
func (c *Config) ReadOnly() bool {
	return c.Token == ""
}

// RequireToken fails with ErrNoToken for commands that write.
func (c *Config) RequireToken() error {
	if c.ReadOnly() {
		return ErrNoToken
	}
	return nil
}

// DBPath is the dataset database file under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("%s-%s.db", c.ProjectID, c.Dataset))
}

// AssetCachePath is where the migration asset cache lives unless overridden.
func (c *Config) AssetCachePath() string {
	if c.AssetCache != "" {
		return c.AssetCache
	}
	return filepath.Join(c.DataDir, "asset-cache.json")
}
