// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Redis  RedisConfig
	SMTP   SMTPConfig
	Fetch  FetchConfig
	Run    RunConfig
	Log    LogConfig
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Driver      string
	MySQLDSN    string
	DatabaseURL string
}

// RedisConfig is optional; an empty URL disables the dispatch ledger, the
// run lock and run history.
type RedisConfig struct {
	URL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type FetchConfig struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	UserAgent  string
}

type RunConfig struct {
	WorkerCount      int
	Timeout          time.Duration
	ThresholdPercent float64
	DedupeTTL        time.Duration
}

type LogConfig struct {
	Level string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatenv(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// durenv accepts Go duration strings ("90s") or plain seconds ("90").
func durenv(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	return def
}

// Load reads an optional .env file and collects configuration from the
// environment with defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Server: ServerConfig{
			HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getenv("GRPC_ADDR", ":50051"),
			ShutdownTimeout: durenv("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			Driver:      getenv("STORE_DRIVER", DriverMySQL),
			MySQLDSN:    getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/pricewatch?parseTime=true"),
			DatabaseURL: getenv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getenv("REDIS_URL", ""),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     atoienv("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("MAIL_FROM", "pricewatch@localhost"),
		},
		Fetch: FetchConfig{
			Timeout:    durenv("FETCH_TIMEOUT", 10*time.Second),
			RatePerSec: floatenv("FETCH_RATE_PER_SEC", 2),
			Burst:      atoienv("FETCH_BURST", 4),
			UserAgent:  getenv("FETCH_USER_AGENT", "Mozilla/5.0 (compatible; pricewatch/1.0)"),
		},
		Run: RunConfig{
			WorkerCount:      atoienv("WORKER_COUNT", 0),
			Timeout:          durenv("RUN_TIMEOUT", 60*time.Second),
			ThresholdPercent: floatenv("THRESHOLD_PERCENT", 0),
			DedupeTTL:        durenv("NOTIFY_DEDUPE_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
	}
}

// Validate checks settings that have no safe fallback.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMySQL:
		if c.Store.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required for the mysql store"))
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Run.ThresholdPercent < 0 {
		errs = append(errs, errors.New("THRESHOLD_PERCENT must be >= 0"))
	}
	if c.Run.WorkerCount < 0 {
		errs = append(errs, errors.New("WORKER_COUNT must be >= 0"))
	}
	if c.Fetch.RatePerSec < 0 {
		errs = append(errs, errors.New("FETCH_RATE_PER_SEC must be >= 0"))
	}
	return errors.Join(errs...)
}
