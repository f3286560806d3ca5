package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reaction уникальна по паре (user_id, message_id): повторная реакция
// того же пользователя заменяет существующую, а не добавляется.
type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
