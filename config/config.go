// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// StoreSQLite keeps everything in a single SQLite file at SQLitePath.
	StoreSQLite = "sqlite"
	// StoreRedis keeps everything in the Redis database at RedisAddr.
	StoreRedis = "redis"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Addr            string        `env:"ROLLCALL_ADDR" envDefault:":3001"`
	Store           string        `env:"ROLLCALL_STORE" envDefault:"sqlite"`
	SQLitePath      string        `env:"ROLLCALL_SQLITE_PATH" envDefault:"./data.db"`
	RedisAddr       string        `env:"ROLLCALL_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword   string        `env:"ROLLCALL_REDIS_PASSWORD"`
	RedisDB         int           `env:"ROLLCALL_REDIS_DB" envDefault:"0"`
	LockTTL         time.Duration `env:"ROLLCALL_LOCK_TTL" envDefault:"5s"`
	CORSOrigins     []string      `env:"ROLLCALL_CORS_ORIGINS" envDefault:"*" envSeparator:","`
	ShutdownTimeout time.Duration `env:"ROLLCALL_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads the given env files and then parses the process environment.
// Variables already set win over file values. With no files it tries ".env"
// and carries on without it; a named file that is missing is an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
		log.Println("No .env file found, using process environment")
	}
	return Parse()
}

// Parse builds a Config from the process environment alone.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that the env tags cannot express.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("ROLLCALL_SQLITE_PATH is required for the sqlite store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("ROLLCALL_REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store %q: must be %q or %q", c.Store, StoreSQLite, StoreRedis)
	}
	if c.LockTTL <= 0 {
		return errors.New("ROLLCALL_LOCK_TTL must be positive")
	}
	return nil
}
