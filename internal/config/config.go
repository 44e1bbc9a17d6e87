// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then environment variables. ENV > file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" validate:"required"`
	Chat     ChatConfig     `koanf:"chat" validate:"required"`
	Security SecurityConfig `koanf:"security" validate:"required"`
	Store    StoreConfig    `koanf:"store" validate:"required"`
	Logging  LoggingConfig  `koanf:"logging" validate:"required"`
}

// ServerConfig covers the HTTP listener and its middleware.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RequestsPerMinute rate-limits the HTTP API per client IP. The
	// WebSocket frame limit is separate, under Chat.
	RequestsPerMinute int `koanf:"requests_per_minute" validate:"min=1"`
}

// ChatConfig tunes the messaging core.
type ChatConfig struct {
	HistoryPageSize  int           `koanf:"history_page_size" validate:"min=1,max=200"`
	AuthTimeout      time.Duration `koanf:"auth_timeout"`
	FrameRate        float64       `koanf:"frame_rate" validate:"gt=0"`
	FrameBurst       int           `koanf:"frame_burst" validate:"min=1"`
	DedupCacheTTL    time.Duration `koanf:"dedup_cache_ttl"`
	DedupMinInterval time.Duration `koanf:"dedup_min_interval"`
	DedupSweepEvery  time.Duration `koanf:"dedup_sweep_every"`
}

// SecurityConfig covers token verification.
type SecurityConfig struct {
	JWTSecret string        `koanf:"jwt_secret" validate:"required,min=32"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// StoreConfig selects and tunes the message store.
type StoreConfig struct {
	// Backend is "badger" or "memory".
	Backend        string        `koanf:"backend" validate:"oneof=badger memory"`
	Path           string        `koanf:"path"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	BreakerEnabled bool          `koanf:"breaker_enabled"`
}

// LoggingConfig mirrors the logging package settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       []string{"*"},
			RequestsPerMinute: 120,
		},
		Chat: ChatConfig{
			HistoryPageSize:  50,
			AuthTimeout:      10 * time.Second,
			FrameRate:        20,
			FrameBurst:       40,
			DedupCacheTTL:    60 * time.Second,
			DedupMinInterval: time.Second,
			DedupSweepEvery:  30 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret: "",
			TokenTTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:        "badger",
			Path:           "/data/parley",
			GCInterval:     10 * time.Minute,
			BreakerEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration with struct tags plus cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the badger backend")
	}
	if c.Chat.DedupMinInterval > c.Chat.DedupCacheTTL {
		return fmt.Errorf("chat.dedup_min_interval must not exceed chat.dedup_cache_ttl")
	}
	return nil
}
