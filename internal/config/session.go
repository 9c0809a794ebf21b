package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type SessionConfig struct {
	// HeartbeatInterval is the presence write cadence; players read as
	// offline after missing three beats.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	// PositionInterval throttles cosmetic position writes.
	PositionInterval time.Duration `env:"POSITION_MIN_INTERVAL" envDefault:"100ms"`
}

func LoadSession() (SessionConfig, error) {
	var cfg SessionConfig
	err := env.Parse(&cfg)
	return cfg, err
}
