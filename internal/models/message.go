// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package models defines the domain entities shared across the messaging core.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a persisted chat message. The messaging core reads and forwards
// this shape; storage is owned by the message store.
type Message struct {
	ID       uuid.UUID  `json:"id"`
	ChatID   uuid.UUID  `json:"chat_id"`
	SenderID uuid.UUID  `json:"sender_id"`
	Text     string     `json:"text"`
	SentAt   time.Time  `json:"sent_at"`
	ReadAt   *time.Time `json:"read_at"`
}

// IsRead reports whether the message has been marked read.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}
