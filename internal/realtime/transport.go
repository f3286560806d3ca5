package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Топики транспорта. Доставка at-least-once, порядок между топиками
// не гарантируется.
const (
	TopicGlobalPresence = "global-presence"
)

func ConversationTopic(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

func InboxTopic(userID uuid.UUID) string {
	return fmt.Sprintf("messages:%s", userID)
}

// Топики смежных подсистем (лайки, уведомления), живущие на том же транспорте.
func PostLikesTopic(postID uuid.UUID) string {
	return fmt.Sprintf("likes:post:%s", postID)
}

func NotificationsTopic(userID uuid.UUID) string {
	return fmt.Sprintf("notifications:%s", userID)
}

// Handler вызывается на каждое входящее событие топика.
type Handler func(topic string, payload []byte)

// Subscription — явный токен отмены подписки: отписка гарантирована
// вызовом Cancel и не зависит от времени жизни замыканий.
type Subscription struct {
	topic  string
	once   sync.Once
	cancel func()
}

func newSubscription(topic string, cancel func()) *Subscription {
	return &Subscription{topic: topic, cancel: cancel}
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Transport — именованный topic-based pub/sub. Publish — best-effort
// побочный канал: его сбой никогда не откатывает durable-запись.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error)
	Close() error
}

// MembershipStore хранит эфемерный состав presence-канала для снапшота
// при подписке. Данные живут только в транспортном слое.
type MembershipStore interface {
	SetMember(ctx context.Context, channel string, memberID string, payload []byte) error
	RemoveMember(ctx context.Context, channel string, memberID string) error
	Members(ctx context.Context, channel string) (map[string][]byte, error)
}
