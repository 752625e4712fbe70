package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the sync service. Values come from a
// config.yaml next to the binary when present, with environment variables
// taking precedence.
type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Kafka     Kafka     `yaml:"kafka"`
	Scheduler Scheduler `yaml:"scheduler"`
	Alerts    Alerts    `yaml:"alerts"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Postgres struct {
	URL           string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" env-default:"migrations"`
}

type Redis struct {
	URL string `yaml:"url" env:"REDIS_URL" env-required:"true"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topics      []string `yaml:"topics" env:"KAFKA_TOPICS" env-default:"customers.events,products.events,orders.events"`
	GroupID     string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"cms-sync"`
	Concurrency int      `yaml:"concurrency" env:"KAFKA_CONCURRENCY" env-default:"5"`
}

type Scheduler struct {
	Interval  time.Duration `yaml:"interval" env:"RETRY_INTERVAL" env-default:"10s"`
	BatchSize int           `yaml:"batch_size" env:"RETRY_BATCH_SIZE" env-default:"100"`
}

type Alerts struct {
	PendingThreshold int           `yaml:"pending_threshold" env:"ALERT_THRESHOLD_PENDING" env-default:"100"`
	FailedThreshold  int           `yaml:"failed_threshold" env:"ALERT_THRESHOLD_FAILED" env-default:"10"`
	Interval         time.Duration `yaml:"interval" env:"ALERT_INTERVAL" env-default:"5m"`
	LogEnabled       bool          `yaml:"log_enabled" env:"ENABLE_LOG_ALERTS" env-default:"true"`
	WebhookEnabled   bool          `yaml:"webhook_enabled" env:"ENABLE_WEBHOOK_ALERTS" env-default:"true"`
	WebhookURL       string        `yaml:"webhook_url" env:"DLQ_WEBHOOK_URL" env-default:""`
	WebhookSecret    string        `yaml:"webhook_secret" env:"DLQ_WEBHOOK_SECRET" env-default:""`
}

// Load reads configuration from config.yaml and the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		// Environment overrides the file.
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	return cfg, nil
}
