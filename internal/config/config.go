package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Storage paths
	CacheDir  string `mapstructure:"cache-dir"`
	DBPath    string `mapstructure:"db-path"`
	FSMDBPath string `mapstructure:"fsm-db-path"`
	MountDir  string `mapstructure:"mount-dir"`

	// Image selection
	Variant    string `mapstructure:"variant"`
	Arch       string `mapstructure:"arch"`
	CatalogURL string `mapstructure:"catalog-url"`
	Mirror     string `mapstructure:"mirror"`
	S3Region   string `mapstructure:"s3-region"`

	// Guard thresholds
	MinDeviceSize int64 `mapstructure:"min-device-size"`
	MinCacheFree  int64 `mapstructure:"min-cache-free"`

	// Image safety limits
	MaxImageSize        int64   `mapstructure:"max-image-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`

	// Write engine
	BlockSize string `mapstructure:"block-size"`

	// Network
	ProbeTarget  string        `mapstructure:"probe-target"`
	ProbeTimeout time.Duration `mapstructure:"probe-timeout"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	BootTimeout  time.Duration `mapstructure:"boot-timeout"`
	WaitForBoot  bool          `mapstructure:"wait-for-boot"`

	// Provisioning record defaults (secrets are always prompted)
	Hostname    string `mapstructure:"hostname"`
	Username    string `mapstructure:"username"`
	WifiSSID    string `mapstructure:"wifi-ssid"`
	WifiCountry string `mapstructure:"wifi-country"`
	Keymap      string `mapstructure:"keymap"`
	Timezone    string `mapstructure:"timezone"`

	// Logging
	Verbose   bool   `mapstructure:"verbose"`
	LogFormat string `mapstructure:"log-format"`
}

const (
	GiB = int64(1024 * 1024 * 1024)

	DefaultMinDeviceSize = 16 * GiB
	DefaultMinCacheFree  = 8 * GiB
)

// SetDefaults registers every default with viper.
func SetDefaults() {
	viper.SetDefault("cache-dir", "/var/cache/piprov")
	viper.SetDefault("db-path", "/var/lib/piprov/piprov.db")
	viper.SetDefault("fsm-db-path", "/var/lib/piprov/fsm")
	viper.SetDefault("mount-dir", "/mnt/piprov")
	viper.SetDefault("variant", "lite")
	viper.SetDefault("arch", "64")
	viper.SetDefault("catalog-url", "https://downloads.raspberrypi.com")
	viper.SetDefault("mirror", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("min-device-size", DefaultMinDeviceSize)
	viper.SetDefault("min-cache-free", DefaultMinCacheFree)
	viper.SetDefault("max-image-size", 64*GiB)
	viper.SetDefault("max-compression-ratio", 20.0)
	viper.SetDefault("block-size", "4M")
	viper.SetDefault("probe-target", "8.8.8.8")
	viper.SetDefault("probe-timeout", 2*time.Second)
	viper.SetDefault("poll-interval", 5*time.Second)
	viper.SetDefault("boot-timeout", 20*time.Minute)
	viper.SetDefault("wait-for-boot", false)
	viper.SetDefault("username", "pi")
	viper.SetDefault("wifi-country", "GB")
	viper.SetDefault("keymap", "gb")
	viper.SetDefault("timezone", "Europe/London")
	viper.SetDefault("verbose", false)
	viper.SetDefault("log-format", "text")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	SetDefaults()

	// Environment variables (PIPROV_CACHE_DIR, etc.)
	viper.SetEnvPrefix("PIPROV")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.piprov")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache-dir cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.MountDir == "" {
		return fmt.Errorf("mount-dir cannot be empty")
	}
	if c.Variant != "lite" && c.Variant != "full" {
		return fmt.Errorf("variant must be lite or full, got %q", c.Variant)
	}
	if c.Arch != "64" && c.Arch != "32" {
		return fmt.Errorf("arch must be 64 or 32, got %q", c.Arch)
	}
	if c.MinDeviceSize <= 0 {
		return fmt.Errorf("min-device-size must be positive")
	}
	if c.MinCacheFree <= 0 {
		return fmt.Errorf("min-cache-free must be positive")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	if c.MaxCompressionRatio <= 0 {
		return fmt.Errorf("max-compression-ratio must be positive")
	}
	if c.BlockSize == "" {
		return fmt.Errorf("block-size cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.BootTimeout < c.PollInterval {
		return fmt.Errorf("boot-timeout must be at least poll-interval")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe-timeout must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
