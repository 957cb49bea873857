package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL           string `yaml:"database_url"`
	HTTPAddr              string `yaml:"http_addr"`
	PollInterval          int    `yaml:"poll_interval"` // seconds
	MaxRetries            int    `yaml:"max_retries"`
	ShutdownTimeout       int    `yaml:"shutdown_timeout"` // seconds
	EnrichBatchSize       int    `yaml:"enrich_batch_size"`
	FeedbackCooldownHours int    `yaml:"feedback_cooldown_hours"`
	GmailClientID         string `yaml:"gmail_client_id"`
	GmailClientSecret     string `yaml:"gmail_client_secret"`
	GmailRedirectURL      string `yaml:"gmail_redirect_url"`
	OpenRouterAPIKey      string `yaml:"openrouter_api_key"`
	OpenRouterModel       string `yaml:"openrouter_model"`
	AMQPURL               string `yaml:"amqp_url"`
	AMQPExchange          string `yaml:"amqp_exchange"`
}

// FeedbackCooldown returns the delay between sending and the feedback queue
func (c *Config) FeedbackCooldown() time.Duration {
	return time.Duration(c.FeedbackCooldownHours) * time.Hour
}

// Load reads configuration from .env, an optional YAML file named by
// KIWIS_CONFIG, and environment variables, in increasing precedence
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("KIWIS_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.GmailClientID == "" || cfg.GmailClientSecret == "" {
		fmt.Println("Warning: GMAIL_CLIENT_ID or GMAIL_CLIENT_SECRET not set, reply detection will not work")
	}

	if cfg.OpenRouterAPIKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, draft generation will not work")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTPAddr:              ":8080",
		PollInterval:          10, // poll every 10 seconds
		MaxRetries:            3,
		ShutdownTimeout:       30,
		EnrichBatchSize:       3,
		FeedbackCooldownHours: 72,
		AMQPExchange:          "kiwis.outreach",
	}
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"DATABASE_URL":        &cfg.DatabaseURL,
		"HTTP_ADDR":           &cfg.HTTPAddr,
		"GMAIL_CLIENT_ID":     &cfg.GmailClientID,
		"GMAIL_CLIENT_SECRET": &cfg.GmailClientSecret,
		"GMAIL_REDIRECT_URL":  &cfg.GmailRedirectURL,
		"OPENROUTER_API_KEY":  &cfg.OpenRouterAPIKey,
		"OPENROUTER_MODEL":    &cfg.OpenRouterModel,
		"AMQP_URL":            &cfg.AMQPURL,
		"AMQP_EXCHANGE":       &cfg.AMQPExchange,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POLL_INTERVAL":           &cfg.PollInterval,
		"MAX_RETRIES":             &cfg.MaxRetries,
		"SHUTDOWN_TIMEOUT":        &cfg.ShutdownTimeout,
		"ENRICH_BATCH_SIZE":       &cfg.EnrichBatchSize,
		"FEEDBACK_COOLDOWN_HOURS": &cfg.FeedbackCooldownHours,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		*dst = n
	}
	return nil
}
