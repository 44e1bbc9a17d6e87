// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package dedup prevents duplicate message submission from a single
// (user, chat) pair under concurrent or rapid-fire requests.
//
// Every check is keyed by a content-addressed digest of
// (user, chat, trimmed text), so two racing submissions of identical text
// serialize against each other while different texts from the same user
// proceed independently. Lock entries are reference-counted and pruned
// together with expired cache entries, which bounds the growth of the
// per-key lock map without coarsening lock granularity.
package dedup

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/metrics"
)

// Default windows, matching the service settings this engine replaces.
const (
	DefaultCacheTTL    = 60 * time.Second
	DefaultMinInterval = 1 * time.Second
)

// Stats is the introspection snapshot returned by Engine.Stats.
type Stats struct {
	CachedMessages int     `json:"cached_messages"`
	ActiveLocks    int     `json:"active_locks"`
	CacheTTL       float64 `json:"cache_ttl"`
	MinInterval    float64 `json:"min_interval"`
}

// entry records the last allowed send for one dedup key.
type entry struct {
	at        time.Time
	messageID uuid.UUID
}

// keyLock is a per-key mutex with a reference count. refs is mutated only
// under Engine.mu; a lock with zero refs and no cache entry is prunable.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Engine is a time-windowed send-dedup cache guarded by per-key locks.
type Engine struct {
	mu      sync.Mutex
	entries map[string]entry
	locks   map[string]*keyLock

	ttl         time.Duration
	minInterval time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine creates an Engine with the given windows. Non-positive values
// fall back to the defaults.
func NewEngine(ttl, minInterval time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Engine{
		entries:     make(map[string]entry),
		locks:       make(map[string]*keyLock),
		ttl:         ttl,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// messageKey digests (user, chat, trimmed text) so whitespace-equivalent
// resubmissions collapse to the same key.
func messageKey(userID, chatID uuid.UUID, trimmed string) string {
	h := xxhash.New()
	_, _ = h.WriteString(userID.String())
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(chatID.String())
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(trimmed)
	return strconv.FormatUint(h.Sum64(), 16)
}

// CheckMessage decides whether a send may proceed.
//
// Empty or whitespace-only text is rejected before any lock is taken.
// Otherwise the per-key lock serializes concurrent checks for the identical
// (user, chat, text) tuple. Within the minimum interval the send is blocked
// with a human-readable reason; past the interval the stale entry is
// deleted and the send allowed. The returned key must be passed to
// MarkMessageSent after the message is durably stored.
func (e *Engine) CheckMessage(userID, chatID uuid.UUID, text string) (bool, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, "Empty message"
	}

	key := messageKey(userID, chatID, trimmed)

	lock := e.acquireLock(key)
	defer e.releaseLock(key)

	lock.mu.Lock()
	defer lock.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if ent, ok := e.entries[key]; ok {
		elapsed := now.Sub(ent.at)
		if elapsed < e.minInterval {
			metrics.DedupBlocked.Inc()
			wait := (e.minInterval - elapsed).Seconds()
			logging.Debug().
				Str("user_id", userID.String()).
				Str("chat_id", chatID.String()).
				Str("last_message_id", ent.messageID.String()).
				Msg("duplicate send blocked")
			return false, fmt.Sprintf("Too frequent. Wait %.1fs", wait)
		}
		// Past the cooldown this is a new, legitimate message.
		delete(e.entries, key)
	}

	e.sweepLocked(now)
	return true, key
}

// MarkMessageSent records the send under key. Call only after the message
// is durably stored; an unmarked failed attempt must not throttle a retry.
func (e *Engine) MarkMessageSent(key string, messageID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries[key] = entry{at: e.now(), messageID: messageID}
	metrics.DedupCacheSize.Set(float64(len(e.entries)))
}

// Sweep removes expired cache entries and unreferenced locks. The session
// path sweeps opportunistically on every allowed check; the supervised
// sweeper service calls this on a timer to cover idle periods.
func (e *Engine) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(e.now())
}

// sweepLocked purges entries older than the TTL and prunes lock entries
// that are unreferenced and no longer backed by a cache entry.
// Callers must hold e.mu.
func (e *Engine) sweepLocked(now time.Time) {
	removed := 0
	for key, ent := range e.entries {
		if now.Sub(ent.at) > e.ttl {
			delete(e.entries, key)
			removed++
		}
	}
	for key, lock := range e.locks {
		if lock.refs == 0 {
			if _, live := e.entries[key]; !live {
				delete(e.locks, key)
			}
		}
	}
	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("dedup cache swept")
	}
	metrics.DedupCacheSize.Set(float64(len(e.entries)))
}

// Stats returns an introspection snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		CachedMessages: len(e.entries),
		ActiveLocks:    len(e.locks),
		CacheTTL:       e.ttl.Seconds(),
		MinInterval:    e.minInterval.Seconds(),
	}
}

// acquireLock returns the lock for key, creating it lazily, and pins it
// against pruning while the caller uses it.
func (e *Engine) acquireLock(key string) *keyLock {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[key]
	if !ok {
		lock = &keyLock{}
		e.locks[key] = lock
	}
	lock.refs++
	return lock
}

// releaseLock unpins the lock for key.
func (e *Engine) releaseLock(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[key]; ok {
		lock.refs--
	}
}
