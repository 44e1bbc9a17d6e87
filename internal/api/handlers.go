// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/session"
	"github.com/vzaretsky/parley/internal/store"
	wstransport "github.com/vzaretsky/parley/internal/websocket"
)

// upgrader relies on the CORS middleware for origin policy; the check here
// accepts what that middleware let through.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and runs one session to
// completion on this goroutine.
func (rt *Router) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := wstransport.NewConn(ws)
	defer func() {
		_ = conn.Close(websocket.CloseGoingAway, "server closing")
	}()

	session.New(rt.deps, conn, chatID).Run(r.Context())
}

// handleHealth is the liveness probe.
func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatStatsResponse combines directory metadata with live presence.
type chatStatsResponse struct {
	ChatID           string   `json:"chat_id"`
	Name             string   `json:"name"`
	Members          int      `json:"members"`
	OnlineUsers      int      `json:"online_users"`
	OnlineUserIDs    []string `json:"online_user_ids"`
	Connections      int      `json:"connections"`
	MultiDeviceUsers int      `json:"multi_device_users"`
}

// handleChatStats reports presence for one chat.
func (rt *Router) handleChatStats(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	chat, err := rt.chats.Chat(r.Context(), chatID)
	if errors.Is(err, store.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logging.Err(err).Str("chat_id", chatID.String()).Msg("chat stats lookup failed")
		writeError(w, http.StatusServiceUnavailable, "chat directory unavailable")
		return
	}

	stats := rt.registry.Stats(chatID)
	online := rt.registry.OnlineUserIDs(chatID)
	ids := make([]string, len(online))
	for i, id := range online {
		ids[i] = id.String()
	}
	writeJSON(w, http.StatusOK, chatStatsResponse{
		ChatID:           chatID.String(),
		Name:             chat.Name,
		Members:          len(chat.Members),
		OnlineUsers:      stats.Users,
		OnlineUserIDs:    ids,
		Connections:      stats.Connections,
		MultiDeviceUsers: stats.MultiDeviceUsers,
	})
}

// handleDedupStats exposes the dedup engine snapshot.
func (rt *Router) handleDedupStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.dedup.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

var _ session.Transport = (*wstransport.Conn)(nil)
