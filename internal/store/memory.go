// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/models"
)

// MemoryStore keeps messages and chats in process memory. It implements
// both MessageStore and ChatDirectory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[uuid.UUID][]*models.Message // chatID -> append-ordered
	byID     map[uuid.UUID]*models.Message
	chats    map[uuid.UUID]*models.Chat
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID][]*models.Message),
		byID:     make(map[uuid.UUID]*models.Message),
		chats:    make(map[uuid.UUID]*models.Chat),
	}
}

// SaveMessage stores a copy of the message.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	s.messages[cp.ChatID] = append(s.messages[cp.ChatID], &cp)
	s.byID[cp.ID] = &cp
	return nil
}

// History pages back from the newest message; the page itself is oldest first.
func (s *MemoryStore) History(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*models.Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[chatID]
	total := len(all)

	end := total - offset
	if end <= 0 {
		return []*models.Message{}, total, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]*models.Message, 0, end-start)
	for _, msg := range all[start:end] {
		cp := *msg
		page = append(page, &cp)
	}
	return page, total, nil
}

// UnreadCount counts unread messages not sent by the user.
func (s *MemoryStore) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.messages[chatID] {
		if msg.SenderID != userID && !msg.IsRead() {
			count++
		}
	}
	return count, nil
}

// MarkReadUpTo marks unread messages from other senders up to the anchor.
func (s *MemoryStore) MarkReadUpTo(ctx context.Context, chatID, readerID, anchorID uuid.UUID) (*ReadReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	anchor, ok := s.byID[anchorID]
	if !ok || anchor.ChatID != chatID {
		return nil, ErrMessageNotFound
	}

	now := nowUTC()
	receipt := &ReadReceipt{BySender: make(map[uuid.UUID]int)}
	for _, msg := range s.messages[chatID] {
		if msg.SenderID == readerID || msg.IsRead() {
			continue
		}
		if msg.SentAt.After(anchor.SentAt) {
			continue
		}
		msg.ReadAt = &now
		receipt.MessageIDs = append(receipt.MessageIDs, msg.ID)
		receipt.BySender[msg.SenderID]++
	}
	return receipt, nil
}

// MarkMessageRead marks one message read unless the reader sent it.
func (s *MemoryStore) MarkMessageRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	if msg.SenderID == readerID || msg.IsRead() {
		cp := *msg
		return &cp, false, nil
	}

	now := nowUTC()
	msg.ReadAt = &now
	cp := *msg
	return &cp, true, nil
}

// Chat returns the chat or ErrChatNotFound.
func (s *MemoryStore) Chat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	cp := *chat
	cp.Members = append([]uuid.UUID(nil), chat.Members...)
	return &cp, nil
}

// SaveChat creates or replaces a chat record.
func (s *MemoryStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *chat
	cp.Members = append([]uuid.UUID(nil), chat.Members...)
	s.chats[cp.ID] = &cp
	return nil
}
