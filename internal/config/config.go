package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr            string `mapstructure:"SERVER_ADDR"`
	DatabasePath          string `mapstructure:"DB_PATH"`
	StorageDomain         string `mapstructure:"STORAGE_DOMAIN"`
	DownloaderPath        string `mapstructure:"DOWNLOADER_PATH"`
	DownloadsDir          string `mapstructure:"DOWNLOADS_DIR"`
	AdminPassword         string `mapstructure:"ADMIN_PASSWORD"`
	IPVerificationEnabled bool   `mapstructure:"IP_VERIFICATION_ENABLED"`
	StrictMode            bool   `mapstructure:"STRICT_MODE"`
	TokenExpiryHours      int    `mapstructure:"TOKEN_EXPIRY_HOURS"`
	MaxDownloadsPerToken  int    `mapstructure:"MAX_DOWNLOADS_PER_TOKEN"`
}

// VerifyPolicy is a snapshot of the verification toggles handed to the
// verification engine per call, so a request evaluates against a fixed view
// of the configuration even if it is reloaded mid-flight.
type VerifyPolicy struct {
	Enabled       bool
	AllowMismatch bool
	TokenLifetime time.Duration
	MaxDownloads  int
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_ADDR", ":8080")
	viper.SetDefault("DB_PATH", "dlgate.db")
	viper.SetDefault("STORAGE_DOMAIN", "https://dw.example.com")
	viper.SetDefault("DOWNLOADER_PATH", "")
	viper.SetDefault("DOWNLOADS_DIR", "downloads")
	viper.SetDefault("IP_VERIFICATION_ENABLED", true)
	viper.SetDefault("STRICT_MODE", false)
	viper.SetDefault("TOKEN_EXPIRY_HOURS", 24)
	viper.SetDefault("MAX_DOWNLOADS_PER_TOKEN", 3)

	viper.SetEnvPrefix("DLGATE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Support fallback loading from a file if env is not set
	viper.SetConfigFile(".env")
	// Ignore err if .env doesn't exist
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Policy builds the per-request verification snapshot from the loaded config.
func (c *Config) Policy() VerifyPolicy {
	return VerifyPolicy{
		Enabled:       c.IPVerificationEnabled,
		AllowMismatch: !c.StrictMode,
		TokenLifetime: time.Duration(c.TokenExpiryHours) * time.Hour,
		MaxDownloads:  c.MaxDownloadsPerToken,
	}
}
