package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"messenger/pkg/logger"
)

// RedisTransport реализует Transport поверх Redis Pub/Sub и
// MembershipStore поверх hash с эфемерным TTL.
type RedisTransport struct {
	rdb *redis.Client
	log logger.Logger
}

func NewRedisTransport(rdb *redis.Client, log logger.Logger) *RedisTransport {
	return &RedisTransport{rdb: rdb, log: log}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	pubsub := t.rdb.Subscribe(ctx, topic)

	// Receive подтверждает подписку до возврата токена, чтобы события,
	// опубликованные сразу после Subscribe, не терялись.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	return newSubscription(topic, func() {
		if err := pubsub.Close(); err != nil {
			t.log.Warn("Failed to close subscription", "topic", topic, "error", err)
		}
	}), nil
}

func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}

const membershipTTL = 24 * time.Hour

func membershipKey(channel string) string {
	return "membership:" + channel
}

func (t *RedisTransport) SetMember(ctx context.Context, channel, memberID string, payload []byte) error {
	key := membershipKey(channel)
	if err := t.rdb.HSet(ctx, key, memberID, payload).Err(); err != nil {
		return fmt.Errorf("set member %s: %w", memberID, err)
	}
	// Страховка от осиротевшего hash после падения всех клиентов.
	t.rdb.Expire(ctx, key, membershipTTL)
	return nil
}

func (t *RedisTransport) RemoveMember(ctx context.Context, channel, memberID string) error {
	if err := t.rdb.HDel(ctx, membershipKey(channel), memberID).Err(); err != nil {
		return fmt.Errorf("remove member %s: %w", memberID, err)
	}
	return nil
}

func (t *RedisTransport) Members(ctx context.Context, channel string) (map[string][]byte, error) {
	raw, err := t.rdb.HGetAll(ctx, membershipKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch members of %s: %w", channel, err)
	}

	members := make(map[string][]byte, len(raw))
	for id, payload := range raw {
		members[id] = []byte(payload)
	}
	return members, nil
}
