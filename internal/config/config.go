package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Verbose bool   `mapstructure:"verbose"`

	// ShareURL is the write-once storage service for shared sessions.
	ShareURL string `mapstructure:"share_url"`

	// Default values for commands
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig holds default values for the recording commands
type DefaultsConfig struct {
	Transport string `mapstructure:"transport"`
	Target    string `mapstructure:"target"`
	Platform  string `mapstructure:"platform"`

	Mode            string `mapstructure:"mode"`
	Duration        string `mapstructure:"duration"`
	BufferSizeKB    int    `mapstructure:"buffer_size_kb"`
	FlushPeriod     string `mapstructure:"flush_period"`
	FileWritePeriod string `mapstructure:"file_write_period"`
	MaxFileSizeMB   int    `mapstructure:"max_file_size_mb"`
	Compress        bool   `mapstructure:"compress"`
	AutoOpen        bool   `mapstructure:"auto_open"`
	OutputDir       string `mapstructure:"output_dir"`

	// Probes enabled when no saved session is loaded.
	Probes []string `mapstructure:"probes"`

	// Transport tuning
	BridgeURL string `mapstructure:"bridge_url"`
	AdbPath   string `mapstructure:"adb_path"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "text",
		Verbose: false,
		Defaults: DefaultsConfig{
			Transport:    "adb",
			Platform:     "android",
			Mode:         "stop_when_full",
			Duration:     "10s",
			BufferSizeKB: 64 * 1024,
			AutoOpen:     false,
			OutputDir:    ".",
			Probes:       []string{"cpu_sched", "cpu_freq"},
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and type
	v.SetConfigName("tracetap")
	v.SetConfigType("yaml")

	// Add config paths (in order of precedence, lowest first)
	v.AddConfigPath("/etc/tracetap/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "tracetap"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".tracetap")
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("TRACETAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "TRACETAP_FORMAT")
	v.BindEnv("verbose", "TRACETAP_VERBOSE")
	v.BindEnv("share_url", "TRACETAP_SHARE_URL")
	v.BindEnv("defaults.transport", "TRACETAP_TRANSPORT")
	v.BindEnv("defaults.target", "TRACETAP_TARGET")
	v.BindEnv("defaults.bridge_url", "TRACETAP_BRIDGE_URL")
	v.BindEnv("defaults.adb_path", "TRACETAP_ADB_PATH")

	// Set defaults
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("defaults.transport", cfg.Defaults.Transport)
	v.SetDefault("defaults.platform", cfg.Defaults.Platform)
	v.SetDefault("defaults.mode", cfg.Defaults.Mode)
	v.SetDefault("defaults.duration", cfg.Defaults.Duration)
	v.SetDefault("defaults.buffer_size_kb", cfg.Defaults.BufferSizeKB)
	v.SetDefault("defaults.auto_open", cfg.Defaults.AutoOpen)
	v.SetDefault("defaults.output_dir", cfg.Defaults.OutputDir)
	v.SetDefault("defaults.probes", cfg.Defaults.Probes)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, err
		}
		// Config file not found; use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
