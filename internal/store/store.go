// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package store persists chat messages and chat metadata.
//
// Two MessageStore implementations exist: BadgerStore for durable
// single-node storage and MemoryStore for tests and ephemeral deployments.
// BreakerStore wraps either with a circuit breaker so a misbehaving store
// degrades to fast failures instead of stalling every session goroutine.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/models"
)

// Sentinel errors shared by all implementations.
var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// DefaultHistoryLimit caps one history page when the client asks for zero
// or a negative limit.
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the hard ceiling for one history page.
const MaxHistoryLimit = 200

// ReadReceipt summarizes one bulk read-marking.
type ReadReceipt struct {
	// MessageIDs are the messages transitioned to read, oldest first.
	MessageIDs []uuid.UUID
	// BySender counts marked messages per original sender, for the
	// personal notifications owed to each of them.
	BySender map[uuid.UUID]int
}

// MessageStore persists messages for one deployment.
type MessageStore interface {
	// SaveMessage stores a new message.
	SaveMessage(ctx context.Context, msg *models.Message) error

	// History returns one page of the chat's messages plus the total
	// count. Offset counts back from the newest message; the returned
	// page is ordered oldest first.
	History(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*models.Message, int, error)

	// UnreadCount counts messages in the chat that the user has not read
	// and did not send.
	UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error)

	// MarkReadUpTo marks as read every unread message in the chat that
	// the reader did not send, up to and including the anchor message.
	// Returns ErrMessageNotFound if the anchor does not exist in the chat.
	MarkReadUpTo(ctx context.Context, chatID, readerID, anchorID uuid.UUID) (*ReadReceipt, error)

	// MarkMessageRead marks a single message read. The bool reports
	// whether the message actually transitioned; reading one's own
	// message or an already-read message is a no-op.
	MarkMessageRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.Message, bool, error)
}

// ChatDirectory resolves chat metadata and membership.
type ChatDirectory interface {
	// Chat returns the chat, or ErrChatNotFound.
	Chat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error)

	// SaveChat creates or replaces a chat record.
	SaveChat(ctx context.Context, chat *models.Chat) error
}

// nowUTC is the read-receipt timestamp source, replaceable in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

// clampLimit normalizes a client-supplied page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
