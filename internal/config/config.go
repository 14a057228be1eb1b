// Package config содержит логику чтения конфигурации сервиса начисления доходности.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Значения по умолчанию.
const (
	DefaultRunAddress  = "localhost:8080"
	DefaultKafkaTopic  = "accrual_events"
	DefaultInterval    = time.Hour
	DefaultTimeout     = 10 * time.Minute
	DefaultConcurrency = 1
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress   string   `env:"RUN_ADDRESS"`
	DatabaseURI  string   `env:"DATABASE_URI"`
	RedisAddress string   `env:"REDIS_ADDRESS"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"`
	JWTSecret    string   `env:"JWT_SECRET"`

	AccrualInterval    time.Duration `env:"ACCRUAL_INTERVAL"`
	AccrualConcurrency int           `env:"ACCRUAL_CONCURRENCY"`
	AccrualTimeout     time.Duration `env:"ACCRUAL_TIMEOUT"`
	AccrualStrict      bool          `env:"ACCRUAL_STRICT"`
}

func defaults() *Config {
	return &Config{
		RunAddress:         DefaultRunAddress,
		KafkaTopic:         DefaultKafkaTopic,
		AccrualInterval:    DefaultInterval,
		AccrualConcurrency: DefaultConcurrency,
		AccrualTimeout:     DefaultTimeout,
	}
}

// FromEnv считывает конфигурацию только из переменных окружения.
func FromEnv() (*Config, error) {
	cfg := defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := defaults()

	var brokers string
	flag.StringVar(&cfg.RunAddress, "a", cfg.RunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for the run lock")
	flag.StringVar(&brokers, "k", "", "comma separated kafka brokers")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for signing access tokens")
	flag.DurationVar(&cfg.AccrualInterval, "i", cfg.AccrualInterval, "accrual schedule interval, 0 disables")
	flag.IntVar(&cfg.AccrualConcurrency, "c", cfg.AccrualConcurrency, "positions processed in parallel")

	flag.Parse()

	if brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = DefaultRunAddress
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.AccrualConcurrency < 1 {
		return errors.New("accrual concurrency must be positive")
	}
	if c.AccrualInterval < 0 {
		return errors.New("accrual interval must not be negative")
	}
	if c.AccrualTimeout < 0 {
		return errors.New("accrual timeout must not be negative")
	}
	c.KafkaBrokers = splitList(strings.Join(c.KafkaBrokers, ","))
	return nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
