package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every runtime setting of the server and its tools.
type Config struct {
	Port     string `env:"APP_PORT" envDefault:"3000"`
	Env      string `env:"APP_ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost      string `env:"DB_HOST" envDefault:"localhost"`
	DBUser      string `env:"DB_USER" envDefault:"postgres"`
	DBPass      string `env:"DB_PASS" envDefault:"postgres"`
	DBName      string `env:"DB_NAME" envDefault:"chatapp"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"chat.db"`
	DBAutoSeed  bool   `env:"DB_AUTO_SEED" envDefault:"false"`

	APIKey         string        `env:"API_KEY" envDefault:"password"`
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"your-secret-key"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	AllowedOrigins []string      `env:"CORS_ORIGINS" envDefault:"http://localhost:3001" envSeparator:","`

	RedisURL         string        `env:"REDIS_URL"`
	SubscriberBuffer int           `env:"EVENT_SUBSCRIBER_BUFFER" envDefault:"64"`
	StreamKeepAlive  time.Duration `env:"STREAM_KEEPALIVE" envDefault:"15s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	// StreamsPerClient caps concurrent SSE and websocket streams per IP; 0 disables it.
	StreamsPerClient int `env:"STREAMS_PER_CLIENT" envDefault:"8"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads .env (when present) and the process environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("APP_PORT is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("EVENT_SUBSCRIBER_BUFFER must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.StreamsPerClient < 0 {
		errs = append(errs, errors.New("STREAMS_PER_CLIENT must not be negative"))
	}
	return errors.Join(errs...)
}
