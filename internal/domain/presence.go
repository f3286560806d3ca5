package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceRecord живет только в пределах членства в presence-канале
// и никогда не персистится.
type PresenceRecord struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Visible     bool      `json:"visible"`
	LastActive  time.Time `json:"last_active"`
}

// Stale сообщает, что запись не обновлялась дольше ttl и участник
// считается отключившимся без явного leave.
func (p *PresenceRecord) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.LastActive) > ttl
}
