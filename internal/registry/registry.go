// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package registry tracks live connections per user and per (chat, user).
//
// The registry is the only cross-session shared view of who is connected.
// Two invariants hold at every point observable by a concurrent reader:
//
//   - a user appears in the presence map iff its connection set is non-empty
//     (empty sets are pruned immediately)
//   - every connection inside a chat scope is also registered in the same
//     user's presence set
//
// A single coarse RWMutex per instance guards both maps; every mutating
// operation is atomic with respect to those invariants.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/metrics"
)

// UserConn pairs a connection with the user it is registered under, so that
// fan-out callers can evict the exact (connection, user) pair on send failure.
type UserConn struct {
	UserID uuid.UUID
	Conn   Conn
}

// ChatStats is a point-in-time summary of one chat scope.
type ChatStats struct {
	Users            int `json:"users"`
	Connections      int `json:"connections"`
	MultiDeviceUsers int `json:"users_with_multiple_devices"`
}

// Registry is an in-memory index of live connections. Lifetime equals the
// process lifetime; there is no persistence. Tests construct isolated
// instances instead of sharing a global.
type Registry struct {
	mu sync.RWMutex

	// presence: userID -> set of connections across all devices
	presence map[uuid.UUID]map[Conn]struct{}

	// chats: chatID -> userID -> set of connections joined to that chat
	chats map[uuid.UUID]map[uuid.UUID]map[Conn]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		presence: make(map[uuid.UUID]map[Conn]struct{}),
		chats:    make(map[uuid.UUID]map[uuid.UUID]map[Conn]struct{}),
	}
}

// Register adds a connection to the user's presence set. Idempotent for the
// same (conn, user) pair.
func (r *Registry) Register(conn Conn, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.presence[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.presence[userID] = set
	}
	if _, dup := set[conn]; dup {
		return
	}
	set[conn] = struct{}{}

	metrics.ActiveConnections.Inc()
	metrics.ConnectionsTotal.Inc()
	logging.Debug().
		Str("user_id", userID.String()).
		Int("connections", len(set)).
		Msg("connection registered")
}

// Unregister removes a connection from the user's presence set and from
// every chat scope it belongs to, pruning empty sets at every level.
// A no-op if the connection was never registered.
func (r *Registry) Unregister(conn Conn, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.presence[userID]
	if ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			metrics.ActiveConnections.Dec()
		}
		if len(set) == 0 {
			delete(r.presence, userID)
		}
	}

	for chatID, users := range r.chats {
		conns, inChat := users[userID]
		if !inChat {
			continue
		}
		delete(conns, conn)
		if len(conns) == 0 {
			delete(users, userID)
			if len(users) == 0 {
				delete(r.chats, chatID)
			}
		}
	}

	logging.Debug().Str("user_id", userID.String()).Msg("connection unregistered")
}

// JoinChat adds all currently registered connections of the user to the chat
// scope. Joining every device at once is what makes multi-device presence in
// a single chat work.
func (r *Registry) JoinChat(userID, chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.presence[userID]
	if !ok {
		return
	}

	users, ok := r.chats[chatID]
	if !ok {
		users = make(map[uuid.UUID]map[Conn]struct{})
		r.chats[chatID] = users
	}
	conns, ok := users[userID]
	if !ok {
		conns = make(map[Conn]struct{})
		users[userID] = conns
	}
	for conn := range set {
		conns[conn] = struct{}{}
	}

	logging.Debug().
		Str("user_id", userID.String()).
		Str("chat_id", chatID.String()).
		Int("devices", len(conns)).
		Msg("user joined chat")
}

// LeaveChat removes the user entirely from the chat scope, all devices.
func (r *Registry) LeaveChat(userID, chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.chats[chatID]
	if !ok {
		return
	}
	if _, inChat := users[userID]; !inChat {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.chats, chatID)
	}

	logging.Debug().
		Str("user_id", userID.String()).
		Str("chat_id", chatID.String()).
		Msg("user left chat")
}

// LeaveChatDevice removes exactly one connection from the chat scope,
// leaving the user's other devices joined.
func (r *Registry) LeaveChatDevice(userID, chatID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.chats[chatID]
	if !ok {
		return
	}
	conns, inChat := users[userID]
	if !inChat {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.chats, chatID)
		}
	}
}

// IsMemberPresent reports whether the chat scope has at least one connection
// for the user.
func (r *Registry) IsMemberPresent(chatID, userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats[chatID][userID]) > 0
}

// HasMultipleDevices reports whether the chat scope has more than one
// connection for the user. Used to suppress duplicate join broadcasts when a
// second device of an already-present user connects.
func (r *Registry) HasMultipleDevices(chatID, userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats[chatID][userID]) > 1
}

// OnlineUserIDs returns a snapshot of users currently present in the chat.
func (r *Registry) OnlineUserIDs(chatID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.chats[chatID]
	ids := make([]uuid.UUID, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns the number of registered connections for the user.
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presence[userID])
}

// IsOnline reports whether the user has at least one registered connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	return r.ConnectionCount(userID) > 0
}

// ConnsForUser returns a snapshot of all connections in the user's presence
// set, across every device.
func (r *Registry) ConnsForUser(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.presence[userID]
	conns := make([]Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// ChatConns returns a snapshot of every (connection, user) pair in the chat
// scope, skipping the excluded user's connections when exclude is non-nil.
func (r *Registry) ChatConns(chatID uuid.UUID, exclude uuid.UUID) []UserConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.chats[chatID]
	out := make([]UserConn, 0, len(users))
	for userID, conns := range users {
		if exclude != uuid.Nil && userID == exclude {
			continue
		}
		for conn := range conns {
			out = append(out, UserConn{UserID: userID, Conn: conn})
		}
	}
	return out
}

// Stats returns a point-in-time summary of the chat scope.
func (r *Registry) Stats(chatID uuid.UUID) ChatStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.chats[chatID]
	stats := ChatStats{Users: len(users)}
	for _, conns := range users {
		stats.Connections += len(conns)
		if len(conns) > 1 {
			stats.MultiDeviceUsers++
		}
	}
	return stats
}
