// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vzaretsky/parley/internal/broadcast"
	"github.com/vzaretsky/parley/internal/config"
	"github.com/vzaretsky/parley/internal/dedup"
	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/models"
	"github.com/vzaretsky/parley/internal/registry"
	"github.com/vzaretsky/parley/internal/session"
	"github.com/vzaretsky/parley/internal/store"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

// stubVerifier resolves fixed tokens to fixed users.
type stubVerifier struct {
	tokens map[string]uuid.UUID
}

func (v *stubVerifier) Verify(_ context.Context, credential string) (uuid.UUID, error) {
	if id, ok := v.tokens[credential]; ok {
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("unknown token")
}

type apiHarness struct {
	server *httptest.Server
	chat   *models.Chat
	alice  uuid.UUID
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	mem := store.NewMemoryStore()
	reg := registry.New()
	alice := uuid.New()
	chat := &models.Chat{
		ID:      uuid.New(),
		Name:    "lobby",
		OwnerID: alice,
		Members: []uuid.UUID{alice},
	}
	if err := mem.SaveChat(context.Background(), chat); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	deps := session.Deps{
		Registry:  reg,
		Broadcast: broadcast.NewEngine(reg),
		Dedup:     dedup.NewEngine(time.Minute, time.Second),
		Verifier:  &stubVerifier{tokens: map[string]uuid.UUID{"alice-token": alice}},
		Messages:  mem,
		Chats:     mem,
		Config:    session.DefaultConfig(),
	}
	cfg := config.ServerConfig{
		CORSOrigins:       []string{"*"},
		RequestsPerMinute: 1000,
	}

	server := httptest.NewServer(NewRouter(cfg, deps).Handler())
	t.Cleanup(server.Close)

	return &apiHarness{server: server, chat: chat, alice: alice}
}

func (h *apiHarness) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()

	resp, err := http.Get(h.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	var body map[string]string
	if status := h.getJSON(t, "/healthz", &body); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "parley_") {
		t.Error("metrics output must include parley collectors")
	}
}

func TestChatStatsUnknownChat(t *testing.T) {
	h := newAPIHarness(t)

	if status := h.getJSON(t, "/api/v1/chats/"+uuid.NewString()+"/stats", nil); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestChatStatsBadID(t *testing.T) {
	h := newAPIHarness(t)

	if status := h.getJSON(t, "/api/v1/chats/not-a-uuid/stats", nil); status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestDedupStatsEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	var stats dedup.Stats
	if status := h.getJSON(t, "/api/v1/dedup/stats", &stats); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if stats.CacheTTL != 60 {
		t.Errorf("cache_ttl = %v, want 60", stats.CacheTTL)
	}
}

func TestWebSocketBadChatID(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.server.URL + "/ws/not-a-uuid")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// dial opens a client connection to the chat endpoint.
func (h *apiHarness) dial(t *testing.T, chatID uuid.UUID) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/" + chatID.String()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readFrame reads and decodes one frame with a test deadline.
func readFrame(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return m
}

func writeFrame(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	h := newAPIHarness(t)
	ws := h.dial(t, h.chat.ID)

	writeFrame(t, ws, map[string]string{"type": "auth", "token": "alice-token"})

	if f := readFrame(t, ws); f["type"] != "auth_success" {
		t.Fatalf("first frame = %v, want auth_success", f)
	}
	if f := readFrame(t, ws); f["type"] != "chat_history" {
		t.Fatalf("second frame = %v, want chat_history", f)
	}

	writeFrame(t, ws, map[string]string{"type": "send_message", "text": "over the wire"})

	f := readFrame(t, ws)
	if f["type"] != "new_message" {
		t.Fatalf("frame = %v, want new_message echo", f)
	}
	msg := f["message"].(map[string]interface{})
	if msg["text"] != "over the wire" || msg["sender_id"] != h.alice.String() {
		t.Errorf("message = %v", msg)
	}
}

func TestChatStatsWithLiveConnection(t *testing.T) {
	h := newAPIHarness(t)
	ws := h.dial(t, h.chat.ID)

	writeFrame(t, ws, map[string]string{"type": "auth", "token": "alice-token"})
	readFrame(t, ws) // auth_success
	readFrame(t, ws) // chat_history

	var stats chatStatsResponse
	if status := h.getJSON(t, "/api/v1/chats/"+h.chat.ID.String()+"/stats", &stats); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if stats.OnlineUsers != 1 || stats.Connections != 1 {
		t.Errorf("stats = %+v, want one online user on one connection", stats)
	}
	if len(stats.OnlineUserIDs) != 1 || stats.OnlineUserIDs[0] != h.alice.String() {
		t.Errorf("online_user_ids = %v, want alice", stats.OnlineUserIDs)
	}
	if stats.Name != "lobby" || stats.Members != 1 {
		t.Errorf("stats metadata = %+v", stats)
	}
}

func TestWebSocketAuthRejected(t *testing.T) {
	h := newAPIHarness(t)
	ws := h.dial(t, h.chat.ID)

	writeFrame(t, ws, map[string]string{"type": "auth", "token": "forged"})

	if f := readFrame(t, ws); f["type"] != "auth_error" {
		t.Fatalf("frame = %v, want auth_error", f)
	}

	// The server closes with a policy violation after rejecting.
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if err == nil {
		t.Fatal("expected close after auth rejection")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("close error = %v, want 1008", err)
	}
}
