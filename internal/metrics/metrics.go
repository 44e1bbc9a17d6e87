// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package metrics exposes Prometheus collectors for the messaging core:
// connection lifecycle, inbound frame throughput, fan-out delivery, and
// deduplication outcomes. Collectors are registered with promauto at package
// load and served over /metrics by the API router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently registered WebSocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_active_connections",
			Help: "Current number of registered WebSocket connections",
		},
	)

	// ConnectionsTotal counts accepted connections over process lifetime.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_connections_total",
			Help: "Total number of WebSocket connections registered",
		},
	)

	// AuthFailures counts failed WebSocket authentication handshakes.
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_auth_failures_total",
			Help: "Total number of failed WebSocket authentication attempts",
		},
	)

	// FramesReceived counts inbound frames by type, including "unknown".
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_frames_received_total",
			Help: "Total number of inbound WebSocket frames by type",
		},
		[]string{"type"},
	)

	// BroadcastDeliveries counts per-connection frame deliveries.
	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_broadcast_deliveries_total",
			Help: "Total number of frames delivered to individual connections",
		},
	)

	// BroadcastFailures counts per-connection send failures. Each failure
	// also evicts the connection from the registry.
	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_broadcast_failures_total",
			Help: "Total number of per-connection send failures during fan-out",
		},
	)

	// MessagesStored counts messages durably persisted by the store.
	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_stored_total",
			Help: "Total number of chat messages persisted",
		},
	)

	// DedupBlocked counts sends rejected by the deduplication engine.
	DedupBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_dedup_blocked_total",
			Help: "Total number of sends blocked as duplicates",
		},
	)

	// DedupCacheSize tracks entries currently held in the dedup cache.
	DedupCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_dedup_cache_entries",
			Help: "Current number of entries in the deduplication cache",
		},
	)

	// RateLimited counts inbound frames dropped by per-connection limits.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rate_limited_frames_total",
			Help: "Total number of inbound frames rejected by rate limiting",
		},
	)
)
