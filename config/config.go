package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	API struct {
		BaseURL string        `koanf:"base_url"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"api"`

	Storage struct {
		Driver string `koanf:"driver"` // memory | file | mysql | redis
		Path   string `koanf:"path"`
	} `koanf:"storage"`

	DB struct {
		User     string `koanf:"user"`
		Password string `koanf:"password"`
		Host     string `koanf:"host"`
		Port     string `koanf:"port"`
		Name     string `koanf:"name"`
	} `koanf:"db"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		Prefix   string `koanf:"prefix"`
	} `koanf:"redis"`

	RabbitMQ struct {
		URL               string        `koanf:"url"`
		Exchange          string        `koanf:"exchange"`
		ReconnectAttempts int           `koanf:"reconnect_attempts"`
		ReconnectDelay    time.Duration `koanf:"reconnect_delay"`
	} `koanf:"rabbitmq"`

	Reconcile struct {
		Interval    time.Duration `koanf:"interval"`
		MaxInterval time.Duration `koanf:"max_interval"`
		Timeout     time.Duration `koanf:"timeout"`
		ViewWait    time.Duration `koanf:"view_wait"`
	} `koanf:"reconcile"`

	JWTSecret string `koanf:"jwt_secret"`
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":                    "storefront",
		"app.http_addr":               ":5123",
		"app.log_level":               "info",
		"app.log_file":                "./logs/storefront.log",
		"api.base_url":                "http://localhost:8080",
		"api.timeout":                 "10s",
		"storage.driver":              "file",
		"storage.path":                "./data/local_storage.json",
		"db.user":                     "root",
		"db.host":                     "localhost",
		"db.port":                     "3306",
		"db.name":                     "storefront",
		"redis.addr":                  "localhost:6379",
		"redis.prefix":                "storefront:",
		"rabbitmq.exchange":           "notifications_exchange",
		"rabbitmq.reconnect_attempts": 5,
		"rabbitmq.reconnect_delay":    "2s",
		"reconcile.interval":          "2s",
		"reconcile.max_interval":      "30s",
		"reconcile.timeout":           "10m",
		"reconcile.view_wait":         "25s",
	}
}

// LoadConfig layers defaults, an optional YAML file and STOREFRONT_ env vars
// (nested with __, e.g. STOREFRONT_API__BASE_URL). An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("STOREFRONT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "STOREFRONT_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.DB.Password = getEnvFromFile("DB_PASSWORD_FILE", cfg.DB.Password)
	cfg.JWTSecret = getEnvFromFile("JWT_SECRET_FILE", cfg.JWTSecret)
	cfg.RabbitMQ.URL = getEnvFromFile("RABBITMQ_URL_FILE", cfg.RabbitMQ.URL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url required")
	}
	switch c.Storage.Driver {
	case "memory", "mysql", "redis":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path required for file driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}
	if c.Reconcile.MaxInterval < c.Reconcile.Interval {
		c.Reconcile.MaxInterval = c.Reconcile.Interval
	}
	return nil
}

// getEnvFromFile reads a secret from the file named by fileKey, keeping
// current when the variable is unset or the file cannot be read.
func getEnvFromFile(fileKey, current string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return current
}
