// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/metrics"
	"github.com/vzaretsky/parley/internal/models"
)

// Key prefixes for BadgerDB storage. Message keys embed the send timestamp
// so a prefix scan walks one chat in chronological order:
//
//	msg:<chatID>:<sentAt unix nanos, 20 digits>:<messageID> -> message JSON
//	msgidx:<messageID>                                      -> primary key
//	chat:<chatID>                                           -> chat JSON
const (
	msgKeyPrefix    = "msg:"
	msgIdxKeyPrefix = "msgidx:"
	chatKeyPrefix   = "chat:"
)

// BadgerStore implements MessageStore and ChatDirectory on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store over an already-opened database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func msgKey(chatID uuid.UUID, msg *models.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s",
		msgKeyPrefix, chatID, msg.SentAt.UnixNano(), msg.ID))
}

func msgIdxKey(messageID uuid.UUID) []byte {
	return []byte(msgIdxKeyPrefix + messageID.String())
}

func chatKey(chatID uuid.UUID) []byte {
	return []byte(chatKeyPrefix + chatID.String())
}

func chatPrefix(chatID uuid.UUID) []byte {
	return []byte(msgKeyPrefix + chatID.String() + ":")
}

// SaveMessage stores the message and its lookup index entry in one txn.
func (s *BadgerStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := msgKey(msg.ChatID, msg)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set message: %w", err)
		}
		if err := txn.Set(msgIdxKey(msg.ID), key); err != nil {
			return fmt.Errorf("set message index: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.MessagesStored.Inc()
	return nil
}

// History pages back from the newest message; the page is oldest first.
func (s *BadgerStore) History(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*models.Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	page := []*models.Message{}
	total := 0
	prefix := chatPrefix(chatID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the whole prefix range.
		seek := append(append([]byte{}, prefix...), 0xff)
		skipped := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			total++
			if skipped < offset {
				skipped++
				continue
			}
			if len(page) >= limit {
				continue
			}
			var msg models.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			page = append(page, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// The reverse scan collected newest first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, total, nil
}

// UnreadCount counts unread messages not sent by the user.
func (s *BadgerStore) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	prefix := chatPrefix(chatID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg models.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			if msg.SenderID != userID && !msg.IsRead() {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkReadUpTo marks unread messages from other senders up to the anchor.
// The anchor's storage key embeds its timestamp, so "up to" is one bounded
// prefix scan ending at that key.
func (s *BadgerStore) MarkReadUpTo(ctx context.Context, chatID, readerID, anchorID uuid.UUID) (*ReadReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	receipt := &ReadReceipt{BySender: make(map[uuid.UUID]int)}
	prefix := chatPrefix(chatID)
	now := nowUTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		anchorKey, err := resolveAnchor(txn, anchorID, prefix)
		if err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), anchorKey) > 0 {
				break
			}
			var msg models.Message
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			if msg.SenderID == readerID || msg.IsRead() {
				continue
			}

			msg.ReadAt = &now
			data, err := json.Marshal(&msg)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			if err := txn.Set(item.KeyCopy(nil), data); err != nil {
				return fmt.Errorf("set message: %w", err)
			}
			receipt.MessageIDs = append(receipt.MessageIDs, msg.ID)
			receipt.BySender[msg.SenderID]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// MarkMessageRead marks one message read unless the reader sent it.
func (s *BadgerStore) MarkMessageRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var msg models.Message
	changed := false

	err := s.db.Update(func(txn *badger.Txn) error {
		idxItem, err := txn.Get(msgIdxKey(messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("get message index: %w", err)
		}
		key, err := idxItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read message index: %w", err)
		}

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		})
		if err != nil {
			return fmt.Errorf("decode message: %w", err)
		}

		if msg.SenderID == readerID || msg.IsRead() {
			return nil
		}

		now := nowUTC()
		msg.ReadAt = &now
		data, err := json.Marshal(&msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set message: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &msg, changed, nil
}

// Chat returns the chat or ErrChatNotFound.
func (s *BadgerStore) Chat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chat models.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chatKey(chatID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrChatNotFound
		}
		if err != nil {
			return fmt.Errorf("get chat: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &chat)
		})
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// SaveChat creates or replaces a chat record.
func (s *BadgerStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chatKey(chat.ID), data)
	})
}

// resolveAnchor maps a message id to its primary key and checks the key
// belongs to the scanned chat.
func resolveAnchor(txn *badger.Txn, anchorID uuid.UUID, prefix []byte) ([]byte, error) {
	idxItem, err := txn.Get(msgIdxKey(anchorID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor index: %w", err)
	}
	key, err := idxItem.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read anchor index: %w", err)
	}
	if !bytes.HasPrefix(key, prefix) {
		return nil, ErrMessageNotFound
	}
	return key, nil
}
