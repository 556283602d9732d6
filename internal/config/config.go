package config

import (
	"fmt"  // Error formatting
	"time" // Durations

	"github.com/joho/godotenv"             // For loading .env files
	"github.com/kelseyhightower/envconfig" // For decoding environment variables into the struct
)

// Config holds the application configuration
type Config struct {
	AppPort  string `envconfig:"APP_PORT" default:"8080"`  // Application port
	IsProd   bool   `envconfig:"IS_PROD" default:"false"`  // Is production environment
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // Logrus level name

	DBDriver   string `envconfig:"DB_DRIVER" default:"mysql"` // mysql, postgres or sqlite
	DBUser     string `envconfig:"DB_USER"`                   // Database user
	DBPassword string `envconfig:"DB_PASSWORD"`               // Database password
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT"` // Database port, driver default when empty
	DBName     string `envconfig:"DB_NAME" default:"finance_ledger"`
	DBDSN      string `envconfig:"DB_DSN"` // Full DSN, overrides the fields above

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"` // JWT secret key
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`      // Token lifetime

	RedisAddr string        `envconfig:"REDIS_ADDR"`               // Redis server address, caching disabled when empty
	RedisPass string        `envconfig:"REDIS_PASS"`               // Redis password
	RedisDB   int           `envconfig:"REDIS_DB" default:"0"`     // Redis database number
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"60s"` // Lifetime of cached reads

	CategoryPolicy string `envconfig:"CATEGORY_POLICY" default:"ignore"` // ignore, strict or create

	AMQPURL      string `envconfig:"AMQP_URL"`                     // RabbitMQ URL, events disabled when empty
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"ledger"` // Topic exchange for ledger events

	AuditSchedule string `envconfig:"AUDIT_SCHEDULE" default:"@every 1h"` // Cron spec of the balance audit, disabled when empty
}

// LoadConfig loads configuration from the environment, reading .env first if present
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Load .env file if present
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// DSN returns the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	switch c.DBDriver {
	case "postgres":
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			c.DBHost, port, c.DBUser, c.DBPassword, c.DBName)
	case "sqlite":
		return c.DBName + ".db"
	default:
		port := c.DBPort
		if port == "" {
			port = "3306"
		}
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + port + ")/" + c.DBName + "?parseTime=true"
	}
}
