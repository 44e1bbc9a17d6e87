// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Command server runs the Parley chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/vzaretsky/parley/internal/api"
	"github.com/vzaretsky/parley/internal/auth"
	"github.com/vzaretsky/parley/internal/broadcast"
	"github.com/vzaretsky/parley/internal/config"
	"github.com/vzaretsky/parley/internal/dedup"
	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/registry"
	"github.com/vzaretsky/parley/internal/session"
	"github.com/vzaretsky/parley/internal/store"
	"github.com/vzaretsky/parley/internal/supervisor"
	"github.com/vzaretsky/parley/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("backend", cfg.Store.Backend).
		Int("port", cfg.Server.Port).
		Msg("Starting Parley")

	verifier, err := auth.NewJWTVerifier(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token verifier")
	}

	var (
		messages store.MessageStore
		chats    store.ChatDirectory
		db       *badger.DB
	)
	switch cfg.Store.Backend {
	case "badger":
		opts := badger.DefaultOptions(cfg.Store.Path).WithLogger(nil)
		db, err = badger.Open(opts)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open message store")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing message store")
			}
		}()
		bs := store.NewBadgerStore(db)
		messages, chats = bs, bs
	case "memory":
		ms := store.NewMemoryStore()
		messages, chats = ms, ms
	default:
		logging.Fatal().Str("backend", cfg.Store.Backend).Msg("Unknown store backend")
	}

	if cfg.Store.BreakerEnabled {
		messages = store.NewBreakerStore(messages)
	}

	reg := registry.New()
	dedupEngine := dedup.NewEngine(cfg.Chat.DedupCacheTTL, cfg.Chat.DedupMinInterval)
	deps := session.Deps{
		Registry:  reg,
		Broadcast: broadcast.NewEngine(reg),
		Dedup:     dedupEngine,
		Verifier:  verifier,
		Messages:  messages,
		Chats:     chats,
		Config: session.Config{
			AuthTimeout:     cfg.Chat.AuthTimeout,
			HistoryPageSize: cfg.Chat.HistoryPageSize,
			FrameRate:       cfg.Chat.FrameRate,
			FrameBurst:      cfg.Chat.FrameBurst,
		},
	}

	router := api.NewRouter(cfg.Server, deps)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddCoreService(services.NewDedupSweeperService(dedupEngine, cfg.Chat.DedupSweepEvery))
	if db != nil {
		tree.AddCoreService(services.NewBadgerGCService(db, cfg.Store.GCInterval))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}
