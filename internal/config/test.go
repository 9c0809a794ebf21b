package config

import "github.com/caarlos0/env/v11"

// TestConfig holds backend endpoints for integration tests. Tests that need
// one of these skip when it is unset.
type TestConfig struct {
	TestPostgresDSN string `env:"TEST_POSTGRES_DSN"`
	TestRedisAddr   string `env:"TEST_REDIS_ADDR"`
	TestRedisDB     int    `env:"TEST_REDIS_DB" envDefault:"9"`
}

func LoadTest() (TestConfig, error) {
	var cfg TestConfig
	err := env.Parse(&cfg)
	return cfg, err
}
