package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message неизменяемо после создания; меняется только производный
// агрегат реакций.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	Content        string     `json:"content"`
	Attachments    []string   `json:"attachments,omitempty"`
	Reactions      []Reaction `json:"reactions"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Before задает порядок отображения: (created_at, id) по возрастанию.
// Идентификатор разрешает коллизии меток времени до миллисекунды.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

// MessagePage — страница durable-выборки плюс курсор продолжения.
type MessagePage struct {
	Messages   []*Message `json:"messages"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
