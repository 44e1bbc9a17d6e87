// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package api exposes the HTTP surface: the WebSocket endpoint that spawns
// chat sessions, operational endpoints, and a small REST introspection API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vzaretsky/parley/internal/config"
	"github.com/vzaretsky/parley/internal/dedup"
	"github.com/vzaretsky/parley/internal/registry"
	"github.com/vzaretsky/parley/internal/session"
	"github.com/vzaretsky/parley/internal/store"
)

// Router builds the HTTP handler tree.
type Router struct {
	cfg      config.ServerConfig
	deps     session.Deps
	registry *registry.Registry
	dedup    *dedup.Engine
	chats    store.ChatDirectory
}

// NewRouter creates a router. The session deps are shared by every
// connection the WebSocket endpoint accepts.
func NewRouter(cfg config.ServerConfig, deps session.Deps) *Router {
	return &Router{
		cfg:      cfg,
		deps:     deps,
		registry: deps.Registry,
		dedup:    deps.Dedup,
		chats:    deps.Chats,
	}
}

// Handler assembles the chi routes.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", rt.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The WebSocket endpoint carries its own frame-level rate limit; the
	// HTTP limiter here only slows connection churn.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RequestsPerMinute, time.Minute))
		r.Get("/ws/{chatID}", rt.handleWebSocket)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/chats/{chatID}/stats", rt.handleChatStats)
			r.Get("/dedup/stats", rt.handleDedupStats)
		})
	})

	return r
}
