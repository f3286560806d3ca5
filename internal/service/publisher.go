package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/metrics"
	"messenger/internal/realtime"
	"messenger/pkg/logger"
)

// eventPublisher — fire-and-forget сторона доставки. Durable-запись к
// моменту вызова уже зафиксирована, поэтому любой сбой здесь только
// логируется и считается в метриках, но не возвращается вызывающему.
type eventPublisher struct {
	transport realtime.Transport
	log       logger.Logger
}

func (p *eventPublisher) publish(ctx context.Context, topic, eventType string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal event", "type", eventType, "error", err)
		metrics.PublishFailures.WithLabelValues(eventType).Inc()
		return
	}

	if err := p.transport.Publish(ctx, topic, payload); err != nil {
		p.log.Error("Failed to publish event", "type", eventType, "topic", topic, "error", err)
		metrics.PublishFailures.WithLabelValues(eventType).Inc()
		return
	}

	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}

func (p *eventPublisher) messageSent(ctx context.Context, message *domain.Message) {
	now := time.Now().UTC()

	p.publish(ctx, realtime.ConversationTopic(message.ConversationID), domain.EventNewMessage, &domain.MessageEvent{
		Type:      domain.EventNewMessage,
		Message:   message,
		Timestamp: now,
	})

	// Inbox-событие получателю для обновления списка диалогов.
	p.publish(ctx, realtime.InboxTopic(message.ReceiverID), domain.EventNewMessage, &domain.InboxEvent{
		Type:           domain.EventNewMessage,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
		SenderID:       message.SenderID,
		Preview:        message.Content,
		Timestamp:      now,
	})
}

func (p *eventPublisher) reactionAdded(ctx context.Context, conversationID uuid.UUID, reaction *domain.Reaction) {
	p.publish(ctx, realtime.ConversationTopic(conversationID), domain.EventReactionAdded, &domain.ReactionEvent{
		Type:      domain.EventReactionAdded,
		MessageID: reaction.MessageID,
		Reaction:  reaction,
		Timestamp: time.Now().UTC(),
	})
}

func (p *eventPublisher) reactionRemoved(ctx context.Context, conversationID, messageID, userID uuid.UUID) {
	p.publish(ctx, realtime.ConversationTopic(conversationID), domain.EventReactionRemoved, &domain.ReactionEvent{
		Type:      domain.EventReactionRemoved,
		MessageID: messageID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	})
}
