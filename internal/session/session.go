// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package session drives the per-connection protocol state machine.
//
// A session owns exactly one client connection for its lifetime and moves
// through authenticating, joining, and the active frame loop. The first
// frame must be an auth frame; every failure before the active state closes
// the socket with a policy-violation code and an auth_error frame. Inside
// the active state each inbound frame is validated, rate limited, and
// dispatched; per-frame failures answer with an error frame and keep the
// session alive.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vzaretsky/parley/internal/auth"
	"github.com/vzaretsky/parley/internal/broadcast"
	"github.com/vzaretsky/parley/internal/dedup"
	"github.com/vzaretsky/parley/internal/logging"
	"github.com/vzaretsky/parley/internal/metrics"
	"github.com/vzaretsky/parley/internal/models"
	"github.com/vzaretsky/parley/internal/protocol"
	"github.com/vzaretsky/parley/internal/registry"
	"github.com/vzaretsky/parley/internal/store"
)

// Transport is the connection as the session sees it: the registry-facing
// send side plus a blocking read.
type Transport interface {
	registry.Conn

	// ReadText blocks until the next text frame, the peer disconnects, or
	// ctx is done.
	ReadText(ctx context.Context) ([]byte, error)
}

// Config tunes per-session behavior.
type Config struct {
	// AuthTimeout bounds the wait for the initial auth frame.
	AuthTimeout time.Duration
	// HistoryPageSize is the page sent automatically after joining.
	HistoryPageSize int
	// FrameRate and FrameBurst feed the per-connection token bucket.
	FrameRate  float64
	FrameBurst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:     10 * time.Second,
		HistoryPageSize: 50,
		FrameRate:       20,
		FrameBurst:      40,
	}
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Registry  *registry.Registry
	Broadcast *broadcast.Engine
	Dedup     *dedup.Engine
	Verifier  auth.TokenVerifier
	Messages  store.MessageStore
	Chats     store.ChatDirectory
	Config    Config
}

// Session is one client connection bound to one chat.
type Session struct {
	deps    Deps
	conn    Transport
	chatID  uuid.UUID
	userID  uuid.UUID
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a session for a freshly upgraded connection. Run must be
// called on the connection's goroutine.
func New(deps Deps, conn Transport, chatID uuid.UUID) *Session {
	def := DefaultConfig()
	if deps.Config.AuthTimeout <= 0 {
		deps.Config.AuthTimeout = def.AuthTimeout
	}
	if deps.Config.HistoryPageSize <= 0 {
		deps.Config.HistoryPageSize = def.HistoryPageSize
	}
	if deps.Config.FrameRate <= 0 {
		deps.Config.FrameRate = def.FrameRate
	}
	if deps.Config.FrameBurst <= 0 {
		deps.Config.FrameBurst = def.FrameBurst
	}
	return &Session{
		deps:    deps,
		conn:    conn,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(deps.Config.FrameRate), deps.Config.FrameBurst),
		log:     logging.With().Str("chat_id", chatID.String()).Logger(),
	}
}

// Run drives the session to completion. It always leaves the registry clean:
// whatever way the session ends, the connection is unregistered and absent
// from every chat scope before Run returns.
func (s *Session) Run(ctx context.Context) {
	if !s.authenticate(ctx) {
		return
	}
	defer s.disconnect()

	if !s.join(ctx) {
		return
	}
	s.active(ctx)
}

// authenticate waits for the auth frame, resolves the user identity, and
// registers the connection. auth_success confirms before the join step; a
// later join failure unwinds through disconnect.
func (s *Session) authenticate(ctx context.Context) bool {
	authCtx, cancel := context.WithTimeout(ctx, s.deps.Config.AuthTimeout)
	defer cancel()

	data, err := s.conn.ReadText(authCtx)
	if err != nil {
		s.rejectAuth("Authentication timeout")
		return false
	}

	in, err := protocol.DecodeInbound(data)
	if err != nil || in.Type != protocol.TypeAuth {
		s.rejectAuth("First message must be auth")
		return false
	}
	metrics.FramesReceived.WithLabelValues(protocol.TypeAuth).Inc()

	userID, err := s.deps.Verifier.Verify(authCtx, in.Token)
	if err != nil {
		s.log.Debug().Err(err).Msg("token rejected")
		s.rejectAuth("Invalid token")
		return false
	}

	s.userID = userID
	s.log = s.log.With().Str("user_id", userID.String()).Logger()
	s.deps.Registry.Register(s.conn, s.userID)
	s.send(protocol.NewAuthSuccess(s.userID, s.chatID))
	return true
}

// join authorizes chat membership, adds the connection to the chat scope,
// and replays recent history. Presence announcements fire only for the
// user's first device in the chat.
func (s *Session) join(ctx context.Context) bool {
	chat, err := s.deps.Chats.Chat(ctx, s.chatID)
	if errors.Is(err, store.ErrChatNotFound) {
		s.rejectAuth("Chat not found")
		return false
	}
	if err != nil {
		s.log.Error().Err(err).Msg("chat lookup failed")
		s.send(protocol.NewAuthError("Service unavailable"))
		_ = s.conn.Close(registry.CloseInternalError, "chat lookup failed")
		return false
	}
	if !chat.HasMember(s.userID) {
		s.rejectAuth("Access denied")
		return false
	}

	firstDevice := !s.deps.Registry.IsMemberPresent(s.chatID, s.userID)
	s.deps.Registry.JoinChat(s.userID, s.chatID)

	s.sendHistory(ctx, s.deps.Config.HistoryPageSize, 0)

	if firstDevice {
		s.deps.Broadcast.SendToChat(protocol.NewUserJoined(s.chatID, s.userID), s.chatID, s.userID)
	}

	s.log.Info().Bool("first_device", firstDevice).Msg("session joined chat")
	return true
}

// active reads and dispatches frames until the connection drops or the
// context ends.
func (s *Session) active(ctx context.Context) {
	for {
		data, err := s.conn.ReadText(ctx)
		if err != nil {
			s.log.Debug().Err(err).Msg("session read ended")
			return
		}

		in, err := protocol.DecodeInbound(data)
		if err != nil {
			s.send(protocol.NewError("Invalid message format"))
			continue
		}
		metrics.FramesReceived.WithLabelValues(in.Type).Inc()

		if !s.limiter.Allow() {
			metrics.RateLimited.Inc()
			s.send(protocol.NewError("Rate limit exceeded"))
			continue
		}

		switch in.Type {
		case protocol.TypeSendMessage:
			s.handleSendMessage(ctx, in)
		case protocol.TypeLeaveChat:
			s.handleLeaveChat()
		case protocol.TypeMarkRead:
			s.handleMarkRead(ctx, in)
		case protocol.TypeMarkSingleRead:
			s.handleMarkSingleRead(ctx, in)
		case protocol.TypeTyping:
			s.handleTyping(in)
		case protocol.TypeGetChatHistory:
			s.sendHistory(ctx, in.Limit, in.Offset)
		case protocol.TypeGetUnreadCount:
			s.handleGetUnreadCount(ctx)
		case protocol.TypeAuth:
			s.send(protocol.NewError("Already authenticated"))
		default:
			s.send(protocol.NewError(fmt.Sprintf("Unknown message type: %s", in.Type)))
		}
	}
}

// handleSendMessage persists one message and echoes it to the whole chat.
// Empty or whitespace-only text is dropped without a reply.
func (s *Session) handleSendMessage(ctx context.Context, in *protocol.Inbound) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}

	allowed, keyOrReason := s.deps.Dedup.CheckMessage(s.userID, s.chatID, in.Text)
	if !allowed {
		s.send(protocol.NewError(keyOrReason))
		return
	}

	msg := &models.Message{
		ID:       uuid.New(),
		ChatID:   s.chatID,
		SenderID: s.userID,
		Text:     text,
		SentAt:   time.Now().UTC(),
	}
	if err := s.deps.Messages.SaveMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Msg("save message failed")
		s.send(protocol.NewError("Failed to send message"))
		return
	}
	s.deps.Dedup.MarkMessageSent(keyOrReason, msg.ID)

	// Sender included: the echo is the client's delivery confirmation.
	s.deps.Broadcast.BroadcastToChat(protocol.NewNewMessage(msg), s.chatID)
}

// handleLeaveChat removes the user from the chat scope and announces the
// departure once no device remains. The connection stays open and keeps
// serving frames.
func (s *Session) handleLeaveChat() {
	s.deps.Registry.LeaveChat(s.userID, s.chatID)
	if !s.deps.Registry.IsMemberPresent(s.chatID, s.userID) {
		s.deps.Broadcast.SendToChat(protocol.NewUserLeft(s.chatID, s.userID), s.chatID, s.userID)
	}
	s.log.Info().Msg("session left chat")
}

// handleMarkRead bulk-marks messages read up to the anchor, then notifies
// the chat and, personally, each affected sender.
func (s *Session) handleMarkRead(ctx context.Context, in *protocol.Inbound) {
	anchorID, err := uuid.Parse(in.LastReadMessageID)
	if err != nil {
		s.send(protocol.NewError("Invalid message id"))
		return
	}

	receipt, err := s.deps.Messages.MarkReadUpTo(ctx, s.chatID, s.userID, anchorID)
	if errors.Is(err, store.ErrMessageNotFound) {
		s.send(protocol.NewError("Message not found"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("mark read failed")
		s.send(protocol.NewError("Failed to mark messages read"))
		return
	}
	if len(receipt.MessageIDs) == 0 {
		return
	}

	s.deps.Broadcast.BroadcastToChat(
		protocol.NewMessagesRead(s.chatID, s.userID, receipt.MessageIDs), s.chatID)

	// Every affected sender gets the batch total, matching the chat-wide
	// read_count.
	for senderID := range receipt.BySender {
		s.deps.Broadcast.SendToUser(
			protocol.NewYourMessagesRead(s.chatID, s.userID, len(receipt.MessageIDs)), senderID)
	}
}

// handleMarkSingleRead marks one message read and notifies its sender.
func (s *Session) handleMarkSingleRead(ctx context.Context, in *protocol.Inbound) {
	messageID, err := uuid.Parse(in.MessageID)
	if err != nil {
		s.send(protocol.NewError("Invalid message id"))
		return
	}

	msg, _, err := s.deps.Messages.MarkMessageRead(ctx, messageID, s.userID)
	if errors.Is(err, store.ErrMessageNotFound) {
		s.send(protocol.NewError("Message not found"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("mark single read failed")
		s.send(protocol.NewError("Failed to mark message read"))
		return
	}
	if msg.ChatID != s.chatID {
		s.send(protocol.NewError("Message not found"))
		return
	}

	// The sender is notified even when the message was already read.
	s.deps.Broadcast.SendToUser(protocol.NewMessageRead(messageID, s.userID), msg.SenderID)
}

// handleTyping relays the indicator to everyone else in the chat.
func (s *Session) handleTyping(in *protocol.Inbound) {
	s.deps.Broadcast.SendToChat(
		protocol.NewTyping(s.chatID, s.userID, in.IsTyping), s.chatID, s.userID)
}

// sendHistory answers with one page of messages plus counts.
func (s *Session) sendHistory(ctx context.Context, limit, offset int) {
	if limit <= 0 {
		limit = s.deps.Config.HistoryPageSize
	}
	page, total, err := s.deps.Messages.History(ctx, s.chatID, limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("history load failed")
		s.send(protocol.NewError("Failed to load history"))
		return
	}
	unread, err := s.deps.Messages.UnreadCount(ctx, s.chatID, s.userID)
	if err != nil {
		s.log.Error().Err(err).Msg("unread count failed")
		unread = 0
	}
	s.send(protocol.NewChatHistory(page, total, unread))
}

// handleGetUnreadCount answers with the user's unread total for this chat.
func (s *Session) handleGetUnreadCount(ctx context.Context) {
	count, err := s.deps.Messages.UnreadCount(ctx, s.chatID, s.userID)
	if err != nil {
		s.log.Error().Err(err).Msg("unread count failed")
		s.send(protocol.NewError("Failed to count unread messages"))
		return
	}
	s.send(protocol.NewUnreadCount(s.chatID, count))
}

// disconnect cleans up after the active loop ends for any reason. If the
// user's last device just left, the chat learns via user_disconnected. A
// user who already left via leave_chat was not present, so no second
// announcement fires.
func (s *Session) disconnect() {
	wasPresent := s.deps.Registry.IsMemberPresent(s.chatID, s.userID)
	s.deps.Registry.Unregister(s.conn, s.userID)
	if wasPresent && !s.deps.Registry.IsMemberPresent(s.chatID, s.userID) {
		s.deps.Broadcast.SendToChat(
			protocol.NewUserDisconnected(s.chatID, s.userID), s.chatID, s.userID)
	}
	s.log.Debug().Msg("session disconnected")
}

// rejectAuth answers a handshake failure and closes with a policy code.
func (s *Session) rejectAuth(reason string) {
	s.send(protocol.NewAuthError(reason))
	_ = s.conn.Close(registry.ClosePolicyViolation, reason)
	s.log.Debug().Str("reason", reason).Msg("session rejected")
}

// send writes one frame to this session's own connection.
func (s *Session) send(frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		s.log.Error().Err(err).Msg("encode outbound frame")
		return
	}
	if err := s.conn.SendText(data); err != nil {
		s.log.Debug().Err(err).Msg("direct send failed")
	}
}
