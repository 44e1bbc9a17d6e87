// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package registry

import (
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

// fakeConn is a no-op Conn for registry tests.
type fakeConn struct {
	id int
}

func (f *fakeConn) SendText([]byte) error   { return nil }
func (f *fakeConn) Close(int, string) error { return nil }

func TestRegisterUnregisterPresence(t *testing.T) {
	r := New()
	user := uuid.New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register(c1, user)
	r.Register(c2, user)

	if got := r.ConnectionCount(user); got != 2 {
		t.Fatalf("ConnectionCount = %d, want 2", got)
	}
	if !r.IsOnline(user) {
		t.Fatal("expected user online after register")
	}

	r.Unregister(c1, user)
	if got := r.ConnectionCount(user); got != 1 {
		t.Fatalf("ConnectionCount after one unregister = %d, want 1", got)
	}

	// Presence invariant: entry exists iff the connection set is non-empty.
	r.Unregister(c2, user)
	if r.IsOnline(user) {
		t.Fatal("expected user offline after last unregister")
	}
	if len(r.presence) != 0 {
		t.Fatalf("presence map not pruned, %d entries remain", len(r.presence))
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	user := uuid.New()
	c := &fakeConn{}

	r.Register(c, user)
	r.Register(c, user)

	if got := r.ConnectionCount(user); got != 1 {
		t.Fatalf("ConnectionCount after duplicate register = %d, want 1", got)
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := New()
	r.Unregister(&fakeConn{}, uuid.New())

	if len(r.presence) != 0 || len(r.chats) != 0 {
		t.Fatal("unregister of unknown connection mutated state")
	}
}

func TestJoinChatAddsAllDevices(t *testing.T) {
	r := New()
	user := uuid.New()
	chat := uuid.New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register(c1, user)
	r.Register(c2, user)
	r.JoinChat(user, chat)

	if !r.IsMemberPresent(chat, user) {
		t.Fatal("expected user present in chat after join")
	}
	if !r.HasMultipleDevices(chat, user) {
		t.Fatal("expected both devices joined to chat scope")
	}

	stats := r.Stats(chat)
	if stats.Users != 1 || stats.Connections != 2 || stats.MultiDeviceUsers != 1 {
		t.Fatalf("Stats = %+v, want 1 user, 2 connections, 1 multi-device", stats)
	}
}

func TestJoinChatWithoutRegistration(t *testing.T) {
	r := New()
	user := uuid.New()
	chat := uuid.New()

	r.JoinChat(user, chat)

	if r.IsMemberPresent(chat, user) {
		t.Fatal("unregistered user must not appear in a chat scope")
	}
}

func TestChatScopeSubsetInvariant(t *testing.T) {
	r := New()
	user := uuid.New()
	chat := uuid.New()
	c := &fakeConn{}

	r.Register(c, user)
	r.JoinChat(user, chat)

	// Unregister must remove the connection from every chat scope too.
	r.Unregister(c, user)

	if r.IsMemberPresent(chat, user) {
		t.Fatal("chat scope holds a connection absent from presence")
	}
	if len(r.chats) != 0 {
		t.Fatalf("chat map not pruned, %d entries remain", len(r.chats))
	}
}

func TestLeaveChatAllDevices(t *testing.T) {
	r := New()
	user := uuid.New()
	chat := uuid.New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register(c1, user)
	r.Register(c2, user)
	r.JoinChat(user, chat)
	r.LeaveChat(user, chat)

	if r.IsMemberPresent(chat, user) {
		t.Fatal("expected user gone from chat after LeaveChat")
	}
	// Presence is untouched by leaving a chat.
	if got := r.ConnectionCount(user); got != 2 {
		t.Fatalf("ConnectionCount = %d, want 2", got)
	}
}

func TestLeaveChatDevice(t *testing.T) {
	r := New()
	user := uuid.New()
	chat := uuid.New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register(c1, user)
	r.Register(c2, user)
	r.JoinChat(user, chat)

	r.LeaveChatDevice(user, chat, c1)
	if !r.IsMemberPresent(chat, user) {
		t.Fatal("expected user still present via second device")
	}
	if r.HasMultipleDevices(chat, user) {
		t.Fatal("expected a single device after LeaveChatDevice")
	}

	r.LeaveChatDevice(user, chat, c2)
	if r.IsMemberPresent(chat, user) {
		t.Fatal("expected user gone after last device left")
	}
}

func TestOnlineUserIDs(t *testing.T) {
	r := New()
	chat := uuid.New()
	u1, u2 := uuid.New(), uuid.New()

	r.Register(&fakeConn{id: 1}, u1)
	r.Register(&fakeConn{id: 2}, u2)
	r.JoinChat(u1, chat)
	r.JoinChat(u2, chat)

	ids := r.OnlineUserIDs(chat)
	if len(ids) != 2 {
		t.Fatalf("OnlineUserIDs returned %d users, want 2", len(ids))
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[u1] || !seen[u2] {
		t.Fatalf("OnlineUserIDs missing a user: %v", ids)
	}
}

func TestChatConnsExclusion(t *testing.T) {
	r := New()
	chat := uuid.New()
	u1, u2 := uuid.New(), uuid.New()
	c1 := &fakeConn{id: 1}
	c2 := &fakeConn{id: 2}

	r.Register(c1, u1)
	r.Register(c2, u2)
	r.JoinChat(u1, chat)
	r.JoinChat(u2, chat)

	all := r.ChatConns(chat, uuid.Nil)
	if len(all) != 2 {
		t.Fatalf("ChatConns without exclusion returned %d, want 2", len(all))
	}

	rest := r.ChatConns(chat, u1)
	if len(rest) != 1 || rest[0].UserID != u2 {
		t.Fatalf("ChatConns excluding u1 = %+v, want only u2", rest)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	chat := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := uuid.New()
			c := &fakeConn{id: i}
			r.Register(c, user)
			r.JoinChat(user, chat)
			r.IsMemberPresent(chat, user)
			r.Stats(chat)
			r.Unregister(c, user)
		}(i)
	}
	wg.Wait()

	if len(r.presence) != 0 || len(r.chats) != 0 {
		t.Fatalf("maps not empty after all disconnects: presence=%d chats=%d",
			len(r.presence), len(r.chats))
	}
}
