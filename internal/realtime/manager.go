package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"messenger/pkg/logger"
)

// Manager — единственное разделяемое realtime-соединение процесса.
// Жизненный цикл явный: Connect под конкретную identity, смена identity
// сбрасывает все подписки прежней, Close завершает соединение.
// Передается через DI, а не через изменяемый глобал.
type Manager struct {
	transport Transport
	log       logger.Logger

	mu       sync.Mutex
	identity uuid.UUID
	subs     []*Subscription
}

func NewManager(transport Transport, log logger.Logger) *Manager {
	return &Manager{transport: transport, log: log}
}

// Connect привязывает соединение к identity. Повторный вызов с той же
// identity — no-op; с другой — отменяет подписки предыдущей.
func (m *Manager) Connect(identity uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity == identity {
		return
	}
	if m.identity != uuid.Nil {
		m.log.Info("Swapping realtime identity", "from", m.identity, "to", identity)
		m.cancelAllLocked()
	}
	m.identity = identity
}

// Subscribe регистрирует подписку под текущей identity, чтобы Connect
// с новой identity и Close могли ее гарантированно отменить.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	sub, err := m.transport.Subscribe(ctx, topic, handler)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return sub, nil
}

func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	return m.transport.Publish(ctx, topic, payload)
}

func (m *Manager) Identity() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Close отменяет все подписки и закрывает транспорт (logout).
func (m *Manager) Close() error {
	m.mu.Lock()
	m.cancelAllLocked()
	m.identity = uuid.Nil
	m.mu.Unlock()
	return m.transport.Close()
}

func (m *Manager) cancelAllLocked() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
}
