package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы событий realtime-канала. Канал даёт at-least-once без порядка,
// поэтому каждый payload самодостаточен и идемпотентен для потребителя.
const (
	EventNewMessage      = "new_message"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"

	PresenceEnter     = "enter"
	PresenceUpdate    = "update"
	PresenceLeave     = "leave"
	PresenceHeartbeat = "heartbeat"
)

type MessageEvent struct {
	Type      string    `json:"type"`
	Message   *Message  `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ReactionEvent struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"message_id"`
	Reaction  *Reaction `json:"reaction,omitempty"`
	UserID    uuid.UUID `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InboxEvent уходит в персональный топик получателя для обновления
// списка диалогов без подписки на каждый из них.
type InboxEvent struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Preview        string    `json:"preview"`
	Timestamp      time.Time `json:"timestamp"`
}

type PresenceEvent struct {
	Type      string          `json:"type"`
	UserID    uuid.UUID       `json:"user_id"`
	Record    *PresenceRecord `json:"record,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// envelope используется только для определения типа входящего события.
type envelope struct {
	Type string `json:"type"`
}

// EventType достает поле type без полного разбора payload.
func EventType(payload []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("malformed event payload: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("event payload has no type")
	}
	return env.Type, nil
}

// ParseMessageEvent валидирует схему события new_message.
func ParseMessageEvent(payload []byte) (*MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("malformed message event: %w", err)
	}
	if ev.Type != EventNewMessage {
		return nil, fmt.Errorf("unexpected message event type %q", ev.Type)
	}
	if ev.Message == nil || ev.Message.ID == uuid.Nil || ev.Message.ConversationID == uuid.Nil {
		return nil, fmt.Errorf("message event missing message or ids")
	}
	return &ev, nil
}

// ParseReactionEvent валидирует схему reaction_added / reaction_removed.
func ParseReactionEvent(payload []byte) (*ReactionEvent, error) {
	var ev ReactionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("malformed reaction event: %w", err)
	}
	switch ev.Type {
	case EventReactionAdded:
		if ev.Reaction == nil || ev.Reaction.MessageID == uuid.Nil {
			return nil, fmt.Errorf("reaction_added event missing reaction")
		}
	case EventReactionRemoved:
		if ev.MessageID == uuid.Nil || ev.UserID == uuid.Nil {
			return nil, fmt.Errorf("reaction_removed event missing ids")
		}
	default:
		return nil, fmt.Errorf("unexpected reaction event type %q", ev.Type)
	}
	return &ev, nil
}

// ParsePresenceEvent валидирует схему presence-события.
func ParsePresenceEvent(payload []byte) (*PresenceEvent, error) {
	var ev PresenceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("malformed presence event: %w", err)
	}
	switch ev.Type {
	case PresenceEnter, PresenceUpdate, PresenceHeartbeat:
		if ev.Record == nil || ev.UserID == uuid.Nil {
			return nil, fmt.Errorf("presence %s event missing record", ev.Type)
		}
	case PresenceLeave:
		if ev.UserID == uuid.Nil {
			return nil, fmt.Errorf("presence leave event missing user id")
		}
	default:
		return nil, fmt.Errorf("unexpected presence event type %q", ev.Type)
	}
	return &ev, nil
}
