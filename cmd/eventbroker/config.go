package main

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// config holds the defaults for command-line flags,
// read from the environment.
type config struct {
	// Zero means unbounded subscription buffers.
	Capacity int `env:"EVENTBROKER_CAPACITY" envDefault:"0"`

	Topic     string `env:"EVENTBROKER_TOPIC" envDefault:"STATUS"`
	Consumers int    `env:"EVENTBROKER_CONSUMERS" envDefault:"1"`

	LogLevel string `env:"EVENTBROKER_LOG_LEVEL" envDefault:"warn"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}
