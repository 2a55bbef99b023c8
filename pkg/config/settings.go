// Package config loads and validates worker settings from YAML files and
// environment variables.
package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database      DbSettings       `mapstructure:"database"`
	Broker        BrokerSettings   `mapstructure:"broker"`
	Consumer      ConsumerSettings `mapstructure:"consumer"`
	MaxRetries    int              `mapstructure:"max_retries" validate:"gte=0"`
	PollInterval  time.Duration    `mapstructure:"poll_interval"`
	RetryBatch    int              `mapstructure:"retry_batch" validate:"gte=0"`
	Observability Observability    `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	return validator.New().Struct(c)
}

// envKeys is the explicit list of settings overridable via EVENTBUS_*
// environment variables (dots become underscores, e.g.
// EVENTBUS_DATABASE_TYPE).
var envKeys = []string{
	"database.type", "database.dsn", "database.uri",
	"database.db_name", "database.collection",
	"broker.type", "broker.url", "broker.exchange",
	"broker.projectID", "broker.confirm_publish",
	"consumer.queue", "consumer.dead_letter_queue",
	"consumer.dead_letter_exchange", "consumer.prefetch",
	"max_retries", "poll_interval", "retry_batch",
	"observability.service_name", "observability.tracing_url",
}

// Load reads worker.yaml from the given path (plus an optional
// worker.<ENVIRONMENT>.yaml overlay), applies environment overrides and
// validates the result.
func Load(filePath string) (*Settings, error) {
	environment, ok := os.LookupEnv("ENVIRONMENT")
	if !ok {
		environment = "development"
	}

	viper.SetConfigType("yaml")
	viper.SetConfigName("worker")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	viper.SetConfigName("worker." + environment)
	if err := viper.MergeInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	cfg := &Settings{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overlays EVENTBUS_* environment variables onto the settings.
func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("EVENTBUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range envKeys {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	return viper.Unmarshal(c)
}
