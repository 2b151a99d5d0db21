// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT" validate:"required,numeric"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMigrate   bool   `mapstructure:"DB_MIGRATE"`
	RedisURL    string `mapstructure:"REDIS_URL" validate:"omitempty,url"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	Workers         int           `mapstructure:"WORKERS" validate:"min=1,max=256"`
	SyncSchedule    string        `mapstructure:"SYNC_SCHEDULE"`
	SyncJobTimeout  time.Duration `mapstructure:"SYNC_JOB_TIMEOUT" validate:"min=1s"`
	SyncRetryFor    time.Duration `mapstructure:"SYNC_RETRY_FOR" validate:"min=0"`
	SyncBackoff     time.Duration `mapstructure:"SYNC_BACKOFF" validate:"min=0"`
	SyncLockEnabled bool          `mapstructure:"SYNC_LOCK_ENABLED"`

	HTTPTimeout        time.Duration `mapstructure:"HTTP_TIMEOUT" validate:"min=1s"`
	WebhookTimeout     time.Duration `mapstructure:"WEBHOOK_TIMEOUT" validate:"min=1s"`
	WebhookMaxAttempts int           `mapstructure:"WEBHOOK_MAX_ATTEMPTS" validate:"min=1,max=20"`
	WebhookBackoff     time.Duration `mapstructure:"WEBHOOK_BACKOFF" validate:"min=0"`

	NotifyMailURL   string `mapstructure:"NOTIFY_MAIL_URL" validate:"omitempty,url"`
	NotifyMailToken string `mapstructure:"NOTIFY_MAIL_TOKEN"`
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string `mapstructure:"KAFKA_NOTIFY_TOPIC"`
}

var defaults = map[string]any{
	"PORT":                 "8080",
	"DB_MIGRATE":           true,
	"LOG_LEVEL":            "info",
	"LOG_PRETTY":           false,
	"WORKERS":              4,
	"SYNC_SCHEDULE":        "0 * * * *",
	"SYNC_JOB_TIMEOUT":     "300s",
	"SYNC_RETRY_FOR":       "1h",
	"SYNC_BACKOFF":         "30s",
	"SYNC_LOCK_ENABLED":    false,
	"HTTP_TIMEOUT":         "30s",
	"WEBHOOK_TIMEOUT":      "30s",
	"WEBHOOK_MAX_ATTEMPTS": 3,
	"WEBHOOK_BACKOFF":      "60s",
	"KAFKA_NOTIFY_TOPIC":   "linecare.notifications",
	"DATABASE_URL":         "",
	"REDIS_URL":            "",
	"NOTIFY_MAIL_URL":      "",
	"NOTIFY_MAIL_TOKEN":    "",
	"KAFKA_BROKERS":        "",
}

// Load reads the environment over the defaults and validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults { v.SetDefault(k, d) }

	var c Config
	if err := v.Unmarshal(&c); err != nil { return Config{}, fmt.Errorf("parse config: %w", err) }
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if err := validator.New().Struct(c); err != nil { return Config{}, fmt.Errorf("invalid config: %w", err) }
	return c, nil
}

// Brokers splits KAFKA_BROKERS on commas.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" { out = append(out, b) }
	}
	return out
}

func (c Config) Addr() string { return ":" + c.Port }
