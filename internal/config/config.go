// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the sync server and the alert worker.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBName      string `mapstructure:"DB_NAME"`
	DBSSLMode   string `mapstructure:"DB_SSLMODE"`

	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	SyncSchedule        string        `mapstructure:"SYNC_SCHEDULE"`
	SyncBatchSize       int           `mapstructure:"SYNC_BATCH_SIZE"`
	ContactCeiling      int           `mapstructure:"CONTACT_CEILING"`
	WriteDelay          time.Duration `mapstructure:"WRITE_DELAY"`
	FallbackContactName string        `mapstructure:"FALLBACK_CONTACT_NAME"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleTokenURL     string `mapstructure:"GOOGLE_TOKEN_URL"`
	PeopleAPIBaseURL   string `mapstructure:"PEOPLE_API_BASE_URL"`

	VaultKey string `mapstructure:"VAULT_KEY"`

	AMQPURL         string `mapstructure:"AMQP_URL"`
	AlertQueue      string `mapstructure:"ALERT_QUEUE"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	AlertWebhookURL string `mapstructure:"ALERT_WEBHOOK_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var keys = []string{
	"DATABASE_URL", "DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME", "DB_SSLMODE",
	"HTTP_ADDR",
	"SYNC_SCHEDULE", "SYNC_BATCH_SIZE", "CONTACT_CEILING", "WRITE_DELAY", "FALLBACK_CONTACT_NAME",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_TOKEN_URL", "PEOPLE_API_BASE_URL",
	"VAULT_KEY",
	"AMQP_URL", "ALERT_QUEUE", "REDIS_URL", "ALERT_WEBHOOK_URL",
	"LOG_LEVEL", "LOG_FORMAT",
}

// LoadEnvFile loads .env into the process environment. A missing file is not an error.
func LoadEnvFile() bool {
	return godotenv.Load() == nil
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SYNC_SCHEDULE", "@every 60s")
	viper.SetDefault("SYNC_BATCH_SIZE", 5)
	viper.SetDefault("CONTACT_CEILING", 25000)
	viper.SetDefault("WRITE_DELAY", "500ms")
	viper.SetDefault("FALLBACK_CONTACT_NAME", "Contact")
	viper.SetDefault("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	viper.SetDefault("PEOPLE_API_BASE_URL", "https://people.googleapis.com")
	viper.SetDefault("ALERT_QUEUE", "sync_alerts")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.AutomaticEnv()

	// Bind environment variables explicitly so keys without defaults reach Unmarshal
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// DSN returns DATABASE_URL when set, else a postgres URL built from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// Validate checks what the sync server cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" && (c.DBUser == "" || c.DBName == "") {
		missing = append(missing, "DATABASE_URL (or DB_USER and DB_NAME)")
	}
	if c.VaultKey == "" {
		missing = append(missing, "VAULT_KEY")
	}
	if c.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", c.SyncBatchSize)
	}
	if c.ContactCeiling < 1 {
		return fmt.Errorf("CONTACT_CEILING must be positive, got %d", c.ContactCeiling)
	}
	if c.WriteDelay < 0 {
		return fmt.Errorf("WRITE_DELAY must not be negative, got %s", c.WriteDelay)
	}
	return nil
}

// ValidateWorker checks what the alert worker cannot start without.
func (c *Config) ValidateWorker() error {
	var missing []string
	if c.AMQPURL == "" {
		missing = append(missing, "AMQP_URL")
	}
	if c.AlertWebhookURL == "" {
		missing = append(missing, "ALERT_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
