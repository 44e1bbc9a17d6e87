// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

// Package protocol defines the WebSocket wire contract.
//
// Inbound frames are untrusted JSON dispatched on a string "type" field, so
// they decode into one permissive struct with an explicit unknown-type
// branch in the session router. Outbound frames are one Go struct per type;
// constructors stamp the type tag and a UTC RFC3339 timestamp so a frame
// can never be sent with a missing or mistyped tag.
package protocol

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/vzaretsky/parley/internal/models"
)

// Inbound frame types.
const (
	TypeAuth           = "auth"
	TypeSendMessage    = "send_message"
	TypeLeaveChat      = "leave_chat"
	TypeMarkRead       = "mark_read"
	TypeMarkSingleRead = "mark_single_read"
	TypeTyping         = "typing"
	TypeGetChatHistory = "get_chat_history"
	TypeGetUnreadCount = "get_unread_count"
)

// Outbound frame types.
const (
	TypeAuthSuccess      = "auth_success"
	TypeAuthError        = "auth_error"
	TypeChatHistory      = "chat_history"
	TypeNewMessage       = "new_message"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeUserDisconnected = "user_disconnected"
	TypeTypingEvent      = "typing"
	TypeMessagesRead     = "messages_read"
	TypeYourMessagesRead = "your_messages_read"
	TypeMessageRead      = "message_read"
	TypeUnreadCount      = "unread_count"
	TypeError            = "error"
)

// Inbound is a decoded client frame. Fields beyond Type are populated only
// for the frame types that carry them; the session router validates per type.
type Inbound struct {
	Type              string `json:"type"`
	Token             string `json:"token,omitempty"`
	Text              string `json:"text,omitempty"`
	LastReadMessageID string `json:"last_read_message_id,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	IsTyping          bool   `json:"is_typing,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	Offset            int    `json:"offset,omitempty"`
}

// DecodeInbound parses one client frame.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode inbound frame: %w", err)
	}
	return &in, nil
}

// Frame is implemented by every outbound frame struct.
type Frame interface {
	frameType() string
}

// Encode serializes an outbound frame once, for fan-out to many connections.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.frameType(), err)
	}
	return data, nil
}

// timestamp returns the wire representation of "now".
func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// AuthSuccess confirms authentication, echoing the resolved identity.
type AuthSuccess struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

func (AuthSuccess) frameType() string { return TypeAuthSuccess }

// NewAuthSuccess builds an auth_success frame.
func NewAuthSuccess(userID, chatID uuid.UUID) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, UserID: userID.String(), ChatID: chatID.String()}
}

// AuthError reports a terminal authentication or authorization failure.
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (AuthError) frameType() string { return TypeAuthError }

// NewAuthError builds an auth_error frame.
func NewAuthError(message string) AuthError {
	return AuthError{Type: TypeAuthError, Message: message}
}

// ChatHistory carries one page of messages, oldest-first within the page.
type ChatHistory struct {
	Type        string            `json:"type"`
	Messages    []*models.Message `json:"messages"`
	TotalCount  int               `json:"total_count"`
	UnreadCount int               `json:"unread_count"`
}

func (ChatHistory) frameType() string { return TypeChatHistory }

// NewChatHistory builds a chat_history frame.
func NewChatHistory(messages []*models.Message, totalCount, unreadCount int) ChatHistory {
	if messages == nil {
		messages = []*models.Message{}
	}
	return ChatHistory{
		Type:        TypeChatHistory,
		Messages:    messages,
		TotalCount:  totalCount,
		UnreadCount: unreadCount,
	}
}

// NewMessageFrame is the canonical persisted message echoed to every chat
// participant, sender included.
type NewMessageFrame struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message"`
}

func (NewMessageFrame) frameType() string { return TypeNewMessage }

// NewNewMessage builds a new_message frame.
func NewNewMessage(msg *models.Message) NewMessageFrame {
	return NewMessageFrame{Type: TypeNewMessage, Message: msg}
}

// Presence announces a user joining, leaving, or disconnecting from a chat.
type Presence struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

func (p Presence) frameType() string { return p.Type }

// NewUserJoined builds a user_joined frame.
func NewUserJoined(chatID, userID uuid.UUID) Presence {
	return Presence{Type: TypeUserJoined, ChatID: chatID.String(), UserID: userID.String(), Timestamp: timestamp()}
}

// NewUserLeft builds a user_left frame.
func NewUserLeft(chatID, userID uuid.UUID) Presence {
	return Presence{Type: TypeUserLeft, ChatID: chatID.String(), UserID: userID.String(), Timestamp: timestamp()}
}

// NewUserDisconnected builds a user_disconnected frame.
func NewUserDisconnected(chatID, userID uuid.UUID) Presence {
	return Presence{Type: TypeUserDisconnected, ChatID: chatID.String(), UserID: userID.String(), Timestamp: timestamp()}
}

// Typing relays a typing indicator to other chat members.
type Typing struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
	Timestamp string `json:"timestamp"`
}

func (Typing) frameType() string { return TypeTypingEvent }

// NewTyping builds a typing frame.
func NewTyping(chatID, userID uuid.UUID, isTyping bool) Typing {
	return Typing{
		Type:      TypeTypingEvent,
		ChatID:    chatID.String(),
		UserID:    userID.String(),
		IsTyping:  isTyping,
		Timestamp: timestamp(),
	}
}

// MessagesRead summarizes a bulk read-marking for the whole chat.
type MessagesRead struct {
	Type       string   `json:"type"`
	ChatID     string   `json:"chat_id"`
	ReadBy     string   `json:"read_by"`
	MessageIDs []string `json:"message_ids"`
	ReadCount  int      `json:"read_count"`
	Timestamp  string   `json:"timestamp"`
}

func (MessagesRead) frameType() string { return TypeMessagesRead }

// NewMessagesRead builds a messages_read frame.
func NewMessagesRead(chatID, readBy uuid.UUID, messageIDs []uuid.UUID) MessagesRead {
	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}
	return MessagesRead{
		Type:       TypeMessagesRead,
		ChatID:     chatID.String(),
		ReadBy:     readBy.String(),
		MessageIDs: ids,
		ReadCount:  len(ids),
		Timestamp:  timestamp(),
	}
}

// YourMessagesRead is the personal notice to a sender whose messages were
// just read by another member.
type YourMessagesRead struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	ReadBy    string `json:"read_by"`
	ReadCount int    `json:"read_count"`
	Timestamp string `json:"timestamp"`
}

func (YourMessagesRead) frameType() string { return TypeYourMessagesRead }

// NewYourMessagesRead builds a your_messages_read frame.
func NewYourMessagesRead(chatID, readBy uuid.UUID, readCount int) YourMessagesRead {
	return YourMessagesRead{
		Type:      TypeYourMessagesRead,
		ChatID:    chatID.String(),
		ReadBy:    readBy.String(),
		ReadCount: readCount,
		Timestamp: timestamp(),
	}
}

// MessageRead is the personal notice for a single message read receipt.
type MessageRead struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	ReadBy    string `json:"read_by"`
	Timestamp string `json:"timestamp"`
}

func (MessageRead) frameType() string { return TypeMessageRead }

// NewMessageRead builds a message_read frame.
func NewMessageRead(messageID, readBy uuid.UUID) MessageRead {
	return MessageRead{
		Type:      TypeMessageRead,
		MessageID: messageID.String(),
		ReadBy:    readBy.String(),
		Timestamp: timestamp(),
	}
}

// UnreadCount answers a get_unread_count request.
type UnreadCount struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	Count  int    `json:"count"`
}

func (UnreadCount) frameType() string { return TypeUnreadCount }

// NewUnreadCount builds an unread_count frame.
func NewUnreadCount(chatID uuid.UUID, count int) UnreadCount {
	return UnreadCount{Type: TypeUnreadCount, ChatID: chatID.String(), Count: count}
}

// ErrorFrame reports a transient per-message failure to one connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorFrame) frameType() string { return TypeError }

// NewError builds an error frame.
func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}
