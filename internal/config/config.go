package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort    string
	StorageDriver string
	IsProduction  bool

	// LockTimeout bounds every wait for an account lock.
	LockTimeout time.Duration

	// RateLimitRPS and RateLimitBurst size the per-caller token bucket on
	// mutation routes. Zero RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from the environment, after merging a .env file
// if one exists.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "ledger")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)
	v.SetDefault("IS_PRODUCTION", false)
	v.SetDefault("LEDGER_LOCK_TIMEOUT", "5s")
	v.SetDefault("RATE_LIMIT_RPS", 20.0)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.AutomaticEnv()

	cfg := &Config{
		DBHost:         v.GetString("DB_HOST"),
		DBPort:         v.GetString("DB_PORT"),
		DBUser:         v.GetString("DB_USER"),
		DBPassword:     v.GetString("DB_PASSWORD"),
		DBName:         v.GetString("DB_NAME"),
		DBSSLMode:      v.GetString("DB_SSLMODE"),
		ServerPort:     v.GetString("SERVER_PORT"),
		StorageDriver:  strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
		IsProduction:   v.GetBool("IS_PRODUCTION"),
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
	}

	lockTimeout, err := time.ParseDuration(v.GetString("LEDGER_LOCK_TIMEOUT"))
	if err != nil || lockTimeout < 0 {
		lockTimeout = 5 * time.Second
		slog.Warn("Invalid LEDGER_LOCK_TIMEOUT, using default", "value", v.GetString("LEDGER_LOCK_TIMEOUT"), "default", lockTimeout)
	}
	cfg.LockTimeout = lockTimeout

	if cfg.StorageDriver != StorageDriverPostgres && cfg.StorageDriver != StorageDriverMemory {
		slog.Warn("Unknown STORAGE_DRIVER, using postgres", "value", cfg.StorageDriver)
		cfg.StorageDriver = StorageDriverPostgres
	}

	return cfg
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// GetDBURL returns the connection string in URL form.
func (c *Config) GetDBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}
