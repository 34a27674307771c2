// Package config loads CLI configuration: an optional config file in the
// data directory plus STEPLINE_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is everything the CLI reads from its environment.
type Config struct {
	// DataDir holds the local database, the server's documents, and logs.
	DataDir string `mapstructure:"data_dir"`

	// Remote connection parameters. Unset or placeholder values leave the
	// application offline.
	RemoteEndpoint string `mapstructure:"remote_endpoint"`
	RemoteProject  string `mapstructure:"remote_project"`
	RemoteKey      string `mapstructure:"remote_key"`

	// ServePort is the listen port for the `serve` command.
	ServePort int `mapstructure:"serve_port"`

	// SoundEnabled is the startup default for completion sounds.
	SoundEnabled bool `mapstructure:"sound_enabled"`

	// AnthropicKey enables the icon suggestion feature when set.
	AnthropicKey string `mapstructure:"anthropic_key"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:      filepath.Join(home, ".stepline"),
		ServePort:    8484,
		SoundEnabled: true,
	}
}

// Load reads stepline.yaml from the data directory (or the working
// directory) and applies environment overrides. A missing config file is
// not an error; a malformed one is.
func Load() (Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigName("stepline")
	v.SetConfigType("yaml")
	v.AddConfigPath(def.DataDir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("STEPLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("remote_endpoint", "")
	v.SetDefault("remote_project", "")
	v.SetDefault("remote_key", "")
	v.SetDefault("serve_port", def.ServePort)
	v.SetDefault("sound_enabled", def.SoundEnabled)
	v.SetDefault("anthropic_key", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// DBPath returns the local database location.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "stepline.db")
}

// ServerDataDir returns where the `serve` command keeps its documents.
func (c Config) ServerDataDir() string {
	return filepath.Join(c.DataDir, "server")
}

// LogPath returns the server's rotated log file location.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "stepline-server.log")
}
