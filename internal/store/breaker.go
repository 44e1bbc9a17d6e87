// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/models"
)

// BreakerStore wraps a MessageStore with a circuit breaker. When the inner
// store keeps failing, the breaker opens and calls fail fast with
// ErrStoreUnavailable instead of stalling session goroutines on a sick
// backend. Not-found results are domain answers, not failures, and do not
// trip the breaker.
type BreakerStore struct {
	inner MessageStore
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerStore wraps inner with default breaker settings: trip after 5
// consecutive failures, retry after 30 seconds.
func NewBreakerStore(inner MessageStore) *BreakerStore {
	settings := gobreaker.Settings{
		Name:    "message-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrMessageNotFound) ||
				errors.Is(err, ErrChatNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("message store breaker state change")
		},
	}

	return &BreakerStore{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

// execute runs fn through the breaker, mapping open-state rejections to
// ErrStoreUnavailable.
func (s *BreakerStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrStoreUnavailable
	}
	return result, err
}

// SaveMessage delegates through the breaker.
func (s *BreakerStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.SaveMessage(ctx, msg)
	})
	return err
}

type historyResult struct {
	page  []*models.Message
	total int
}

// History delegates through the breaker.
func (s *BreakerStore) History(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*models.Message, int, error) {
	result, err := s.execute(func() (interface{}, error) {
		page, total, err := s.inner.History(ctx, chatID, limit, offset)
		return historyResult{page: page, total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	hr := result.(historyResult)
	return hr.page, hr.total, nil
}

// UnreadCount delegates through the breaker.
func (s *BreakerStore) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	result, err := s.execute(func() (interface{}, error) {
		count, err := s.inner.UnreadCount(ctx, chatID, userID)
		return count, err
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// MarkReadUpTo delegates through the breaker.
func (s *BreakerStore) MarkReadUpTo(ctx context.Context, chatID, readerID, anchorID uuid.UUID) (*ReadReceipt, error) {
	result, err := s.execute(func() (interface{}, error) {
		return s.inner.MarkReadUpTo(ctx, chatID, readerID, anchorID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ReadReceipt), nil
}

type markReadResult struct {
	msg     *models.Message
	changed bool
}

// MarkMessageRead delegates through the breaker.
func (s *BreakerStore) MarkMessageRead(ctx context.Context, messageID, readerID uuid.UUID) (*models.Message, bool, error) {
	result, err := s.execute(func() (interface{}, error) {
		msg, changed, err := s.inner.MarkMessageRead(ctx, messageID, readerID)
		return markReadResult{msg: msg, changed: changed}, err
	})
	if err != nil {
		return nil, false, err
	}
	mr := result.(markReadResult)
	return mr.msg, mr.changed, nil
}
