package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	DBDriver    string // sqlite | postgres
	SQLitePath  string
	PostgresURL string

	// Sessions
	SessionTTL time.Duration

	// AMQP (optional; empty URL disables messaging)
	AMQPURL           string
	AMQPExchange      string
	AMQPEventQueue    string
	AMQPDeliveryQueue string

	// Query endpoints
	MaxRowsPerPage int
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8484"),

		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		SQLitePath:  getEnv("SQLITE_DB_PATH", "./data/moneta.db"),
		PostgresURL: getEnv("POSTGRES_URL", ""),

		SessionTTL: getEnvDuration("SESSION_TTL", 12*time.Hour),

		AMQPURL:           getEnv("AMQP_URL", ""),
		AMQPExchange:      getEnv("AMQP_EXCHANGE", "moneta"),
		AMQPEventQueue:    getEnv("AMQP_EVENT_QUEUE", "expense_events"),
		AMQPDeliveryQueue: getEnv("AMQP_DELIVERY_QUEUE", "seen_transactions"),

		MaxRowsPerPage: getEnvInt("MAX_ROWS_PER_PAGE", 100),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using the sqlite driver")
		} else if dir := filepath.Dir(c.SQLitePath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.PostgresURL == "" {
			errors = append(errors, "POSTGRES_URL is required when using the postgres driver")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid db driver '%s': must be one of [sqlite postgres]", c.DBDriver))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventQueue == "" {
			errors = append(errors, "AMQP event queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPDeliveryQueue == "" {
			errors = append(errors, "AMQP delivery queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if c.MaxRowsPerPage < 1 || c.MaxRowsPerPage > 1000 {
		errors = append(errors, fmt.Sprintf("invalid max rows per page %d: must be between 1 and 1000", c.MaxRowsPerPage))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// DSN returns the data source string matching the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.PostgresURL
	}
	return c.SQLitePath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
