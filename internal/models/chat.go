// Parley - Real-Time Chat Messaging Core
// Copyright 2026 V. Zaretsky (vzaretsky)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vzaretsky/parley

package models

import "github.com/google/uuid"

// Chat is a conversation with a fixed member list. Membership management is
// outside the messaging core; sessions only check membership on join.
type Chat struct {
	ID      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	OwnerID uuid.UUID   `json:"owner_id"`
	Members []uuid.UUID `json:"members"`
}

// HasMember reports whether the given user belongs to the chat.
func (c *Chat) HasMember(userID uuid.UUID) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}
