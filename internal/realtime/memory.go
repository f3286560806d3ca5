package realtime

import (
	"context"
	"sync"
)

// MemoryTransport — внутрипроцессная реализация Transport и
// MembershipStore для тестов и для режима одного узла.
type MemoryTransport struct {
	mu       sync.RWMutex
	closed   bool
	nextID   int
	handlers map[string]map[int]Handler
	members  map[string]map[string][]byte
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		handlers: make(map[string]map[int]Handler),
		members:  make(map[string]map[string][]byte),
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.RLock()
	subs := make([]Handler, 0, len(t.handlers[topic]))
	for _, h := range t.handlers[topic] {
		subs = append(subs, h)
	}
	t.mu.RUnlock()

	// Доставка синхронная; дубликаты допустимы, как и у реального канала.
	for _, h := range subs {
		h(topic, payload)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	if t.handlers[topic] == nil {
		t.handlers[topic] = make(map[int]Handler)
	}
	t.handlers[topic][id] = handler
	t.mu.Unlock()

	return newSubscription(topic, func() {
		t.mu.Lock()
		delete(t.handlers[topic], id)
		t.mu.Unlock()
	}), nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.handlers = make(map[string]map[int]Handler)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTransport) SetMember(ctx context.Context, channel, memberID string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.members[channel] == nil {
		t.members[channel] = make(map[string][]byte)
	}
	t.members[channel][memberID] = payload
	return nil
}

func (t *MemoryTransport) RemoveMember(ctx context.Context, channel, memberID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.members[channel], memberID)
	return nil
}

func (t *MemoryTransport) Members(ctx context.Context, channel string) (map[string][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := make(map[string][]byte, len(t.members[channel]))
	for id, payload := range t.members[channel] {
		members[id] = payload
	}
	return members, nil
}
