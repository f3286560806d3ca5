package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation — двусторонний диалог. Участники хранятся в каноническом
// порядке (UserA < UserB), что вместе с UNIQUE(user_a, user_b) гарантирует
// единственность диалога для неупорядоченной пары.
type Conversation struct {
	ID             uuid.UUID  `json:"id"`
	UserA          uuid.UUID  `json:"user_a"`
	UserB          uuid.UUID  `json:"user_b"`
	LastMessageID  *uuid.UUID `json:"last_message_id,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	UserAUnread    int        `json:"user_a_unread"`
	UserBUnread    int        `json:"user_b_unread"`
	UserAClearedAt *time.Time `json:"user_a_cleared_at,omitempty"`
	UserBClearedAt *time.Time `json:"user_b_cleared_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CanonicalPair упорядочивает пару идентификаторов лексикографически.
func CanonicalPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if y.String() < x.String() {
		return y, x
	}
	return x, y
}

// HasParticipant проверяет принадлежность пользователя диалогу.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.UserA == userID || c.UserB == userID
}

// OtherParticipant возвращает собеседника userID.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// UnreadFor возвращает счетчик непрочитанного для участника.
func (c *Conversation) UnreadFor(userID uuid.UUID) int {
	if c.UserA == userID {
		return c.UserAUnread
	}
	return c.UserBUnread
}
