// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads cmdbot settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"go.mau.fi/cmdbot/bot"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CMDBOT_"

// DefaultEnvFile is loaded if it exists and no other file was requested.
const DefaultEnvFile = ".env"

var (
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
	ErrHARequiresPostgres = errors.New("high availability mode requires a postgres database")
)

type Config struct {
	DatabaseDialect string `env:"DATABASE_DIALECT" envDefault:"sqlite3"`
	DatabaseURL     string `env:"DATABASE_URL" envDefault:"file:cmdbot.db?_foreign_keys=on"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"pretty"`

	HTTPAddr  string `env:"HTTP_ADDR"`
	HAEnabled bool   `env:"HA_ENABLED" envDefault:"false"`
	// HALockName identifies the group of instances competing for one account. Instances sharing a
	// database must use the same name.
	HALockName string `env:"HA_LOCK_NAME" envDefault:"default"`

	MenuImage  string `env:"MENU_IMAGE" envDefault:"https://i.ibb.co/MDdvjFVh/109054.jpg"`
	GroupImage string `env:"GROUP_IMAGE" envDefault:"https://i.ibb.co/BHHmyS46/EEWC-o2-MDVg-MEz7jm8-Fbn-3343437531.webp"`
	HelpImage  string `env:"HELP_IMAGE" envDefault:"https://i.ibb.co/c7Y4bn1/9780b13155bf33e2ab441389a38545ac.jpg"`

	SubscribeDelay time.Duration `env:"SUBSCRIBE_DELAY" envDefault:"500ms"`
	TypingDelay    time.Duration `env:"TYPING_DELAY" envDefault:"2s"`
	CommandTimeout time.Duration `env:"COMMAND_TIMEOUT" envDefault:"2m"`
	RequireAdmin   bool          `env:"REQUIRE_ADMIN" envDefault:"true"`
	SkipBacklog    bool          `env:"SKIP_BACKLOG" envDefault:"true"`

	ImageCacheTTL    time.Duration `env:"IMAGE_CACHE_TTL" envDefault:"1h"`
	MaxVideoDuration time.Duration `env:"MAX_VIDEO_DURATION" envDefault:"10s"`
	FFmpegPath       string        `env:"FFMPEG_PATH"`
}

// Load reads the given .env file into the process environment (without overriding variables that
// are already set) and then parses the configuration. An empty envFile loads DefaultEnvFile if it
// exists.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations of settings that can't be expressed with struct tags.
func (cfg *Config) Validate() error {
	cfg.DatabaseDialect = strings.ToLower(cfg.DatabaseDialect)
	switch cfg.DatabaseDialect {
	case "sqlite3", "sqlite":
		cfg.DatabaseDialect = "sqlite3"
	case "postgres", "postgresql", "pgx":
		cfg.DatabaseDialect = "postgres"
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedDialect, cfg.DatabaseDialect)
	}
	if cfg.HAEnabled && cfg.DatabaseDialect != "postgres" {
		return ErrHARequiresPostgres
	}
	return nil
}

// Bot returns the bot settings contained in the config.
func (cfg *Config) Bot() bot.Config {
	return bot.Config{
		MenuImage:      cfg.MenuImage,
		GroupImage:     cfg.GroupImage,
		HelpImage:      cfg.HelpImage,
		RequireAdmin:   cfg.RequireAdmin,
		SkipBacklog:    cfg.SkipBacklog,
		CommandTimeout: cfg.CommandTimeout,
	}
}
