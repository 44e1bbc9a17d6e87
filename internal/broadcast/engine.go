// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package broadcast fans frames out to connections tracked by the registry.
//
// Delivery is best effort: a failed send marks that single connection dead
// and evicts it from the registry, and the fan-out continues with the
// remaining connections. No ordering or atomicity is guaranteed across
// concurrent broadcasts.
package broadcast

import (
	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/metrics"
	"github.com/vzaretsky/parley/internal/protocol"
	"github.com/vzaretsky/parley/internal/registry"
)

// Engine delivers outbound frames to registry-tracked connections.
type Engine struct {
	registry *registry.Registry
}

// NewEngine creates a broadcast engine over the given registry.
func NewEngine(r *registry.Registry) *Engine {
	return &Engine{registry: r}
}

// SendToUser serializes the frame once and delivers it to every connection
// in the user's presence set. A failing connection is evicted; the user's
// other devices still receive the frame.
func (e *Engine) SendToUser(frame protocol.Frame, userID uuid.UUID) {
	data, err := protocol.Encode(frame)
	if err != nil {
		logging.Err(err).Str("user_id", userID.String()).Msg("encode frame for user send")
		return
	}

	for _, conn := range e.registry.ConnsForUser(userID) {
		e.deliver(conn, userID, data)
	}
}

// SendToChat delivers the frame to every connection in every user's chat
// scope, skipping the excluded user's connections when exclude is non-nil.
// Failure isolation matches SendToUser.
func (e *Engine) SendToChat(frame protocol.Frame, chatID uuid.UUID, exclude uuid.UUID) {
	data, err := protocol.Encode(frame)
	if err != nil {
		logging.Err(err).Str("chat_id", chatID.String()).Msg("encode frame for chat send")
		return
	}

	for _, uc := range e.registry.ChatConns(chatID, exclude) {
		e.deliver(uc.Conn, uc.UserID, data)
	}
}

// BroadcastToChat delivers to everyone in the chat, the actor included.
// Used when the actor's client needs the server-confirmed echo, e.g. the
// canonical persisted message after a send.
func (e *Engine) BroadcastToChat(frame protocol.Frame, chatID uuid.UUID) {
	e.SendToChat(frame, chatID, uuid.Nil)
}

// deliver writes to one connection and evicts it on failure.
func (e *Engine) deliver(conn registry.Conn, userID uuid.UUID, data []byte) {
	if err := conn.SendText(data); err != nil {
		metrics.BroadcastFailures.Inc()
		logging.Warn().
			Err(err).
			Str("user_id", userID.String()).
			Msg("send failed, evicting connection")
		e.registry.Unregister(conn, userID)
		return
	}
	metrics.BroadcastDeliveries.Inc()
}
