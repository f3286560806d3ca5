package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/metrics"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	"messenger/pkg/logger"
	"messenger/pkg/retry"
)

// Config — периоды heartbeat и порог, после которого участник без
// heartbeat считается отключившимся без явного leave.
type Config struct {
	Heartbeat time.Duration
	StaleTTL  time.Duration
}

// Engine отслеживает онлайн-состав через общий presence-топик.
// Состояние на пользователя — {absent, present}; ничего не персистится:
// состав восстанавливается снапшотом при подписке и дальше живет только
// на инкрементальных событиях, без опроса.
type Engine struct {
	cfg       Config
	transport realtime.Transport
	members   realtime.MembershipStore
	users     repository.UserRepository
	log       logger.Logger
	now       func() time.Time

	mu      sync.RWMutex
	tracked map[uuid.UUID]*domain.PresenceRecord
	self    *domain.PresenceRecord
	sub     *realtime.Subscription
}

func NewEngine(transport realtime.Transport, members realtime.MembershipStore, users repository.UserRepository, cfg Config, log logger.Logger) *Engine {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = 3 * cfg.Heartbeat
	}

	return &Engine{
		cfg:       cfg,
		transport: transport,
		members:   members,
		users:     users,
		log:       log,
		now:       time.Now,
		tracked:   make(map[uuid.UUID]*domain.PresenceRecord),
	}
}

// Start подписывается на топик и восстанавливает текущий состав
// снапшотом. Снапшот читается с ограниченным повтором: канал может
// быть еще не готов сразу после коннекта.
func (e *Engine) Start(ctx context.Context) error {
	sub, err := e.transport.Subscribe(ctx, realtime.TopicGlobalPresence, e.handleEvent)
	if err != nil {
		return err
	}
	e.sub = sub

	err = retry.Do(ctx, 5, retry.Exponential(200*time.Millisecond, 5*time.Second), func(ctx context.Context) error {
		snapshot, err := e.members.Members(ctx, realtime.TopicGlobalPresence)
		if err != nil {
			return err
		}
		e.applySnapshot(snapshot)
		return nil
	})
	if err != nil {
		// Запросы presence тихо отвечают "offline", пока состав пуст.
		e.log.Warn("Failed to fetch presence snapshot", "error", err)
	}

	return nil
}

// Enter объявляет self в канале со снапшотом профиля и флагом
// видимости. Вызывается один раз при монтировании.
func (e *Engine) Enter(ctx context.Context, userID uuid.UUID, visible bool) error {
	record := &domain.PresenceRecord{
		UserID:     userID,
		Visible:    visible,
		LastActive: e.now(),
	}
	if user, err := e.users.GetByID(ctx, userID); err == nil {
		record.Username = user.Username
		record.DisplayName = user.DisplayName
		record.AvatarURL = user.AvatarURL
	} else {
		e.log.Warn("Failed to load profile for presence", "user_id", userID, "error", err)
	}

	e.mu.Lock()
	e.self = record
	e.tracked[userID] = record
	e.mu.Unlock()

	return e.announce(ctx, domain.PresenceEnter, record)
}

// UpdateVisibility эмитит update (никогда не повторный enter) при смене
// видимости/фокуса: меняются только метаданные, не состояние членства.
func (e *Engine) UpdateVisibility(ctx context.Context, visible bool) error {
	e.mu.Lock()
	if e.self == nil {
		e.mu.Unlock()
		return nil
	}
	refreshed := *e.self
	refreshed.Visible = visible
	refreshed.LastActive = e.now()
	e.self = &refreshed
	e.tracked[refreshed.UserID] = &refreshed
	e.mu.Unlock()

	return e.announce(ctx, domain.PresenceUpdate, &refreshed)
}

// Leave — явный выход при размонтировании или завершении процесса.
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	self := e.self
	e.self = nil
	e.mu.Unlock()

	if self == nil {
		return nil
	}

	e.mu.Lock()
	delete(e.tracked, self.UserID)
	e.mu.Unlock()

	if err := e.members.RemoveMember(ctx, realtime.TopicGlobalPresence, self.UserID.String()); err != nil {
		e.log.Warn("Failed to remove presence member", "error", err)
	}

	ev := &domain.PresenceEvent{Type: domain.PresenceLeave, UserID: self.UserID, Timestamp: e.now()}
	return e.publish(ctx, ev)
}

// Run шлет heartbeat и выметает участников, чей heartbeat протух:
// упавший без leave процесс со временем становится offline для всех.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.sub != nil {
				e.sub.Cancel()
			}
			return
		case <-ticker.C:
			e.heartbeat(ctx)
			e.reap()
		}
	}
}

// IsUserOnline — тест членства. Никогда не возвращает ошибку: при
// недоступном транспорте состав пуст и ответ — "offline".
func (e *Engine) IsUserOnline(userID uuid.UUID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	record, ok := e.tracked[userID]
	return ok && !record.Stale(e.now(), e.cfg.StaleTTL)
}

// OnlineUsers возвращает множество id участников канала.
func (e *Engine) OnlineUsers() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	ids := make([]uuid.UUID, 0, len(e.tracked))
	for id, record := range e.tracked {
		if !record.Stale(now, e.cfg.StaleTTL) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) handleEvent(_ string, payload []byte) {
	ev, err := domain.ParsePresenceEvent(payload)
	if err != nil {
		e.log.Warn("Dropping malformed presence event", "error", err)
		metrics.EventsDropped.WithLabelValues("bad_presence").Inc()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case domain.PresenceEnter, domain.PresenceHeartbeat:
		// absent -> present; heartbeat заодно освежает last_active.
		e.tracked[ev.UserID] = ev.Record
	case domain.PresenceUpdate:
		// Только метаданные, без перехода состояния.
		if _, ok := e.tracked[ev.UserID]; ok {
			e.tracked[ev.UserID] = ev.Record
		}
	case domain.PresenceLeave:
		delete(e.tracked, ev.UserID)
	}
}

func (e *Engine) applySnapshot(snapshot map[string][]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, payload := range snapshot {
		userID, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		var record domain.PresenceRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			e.log.Warn("Dropping malformed presence snapshot entry", "member", id, "error", err)
			continue
		}
		e.tracked[userID] = &record
	}
}

func (e *Engine) heartbeat(ctx context.Context) {
	e.mu.Lock()
	if e.self == nil {
		e.mu.Unlock()
		return
	}
	refreshed := *e.self
	refreshed.LastActive = e.now()
	e.self = &refreshed
	e.tracked[refreshed.UserID] = &refreshed
	e.mu.Unlock()

	if err := e.announce(ctx, domain.PresenceHeartbeat, &refreshed); err != nil {
		e.log.Warn("Failed to send presence heartbeat", "error", err)
	}
}

func (e *Engine) reap() {
	now := e.now()

	e.mu.Lock()
	for id, record := range e.tracked {
		if record.Stale(now, e.cfg.StaleTTL) {
			delete(e.tracked, id)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) announce(ctx context.Context, eventType string, record *domain.PresenceRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := e.members.SetMember(ctx, realtime.TopicGlobalPresence, record.UserID.String(), payload); err != nil {
		e.log.Warn("Failed to store presence member", "error", err)
	}

	return e.publish(ctx, &domain.PresenceEvent{
		Type:      eventType,
		UserID:    record.UserID,
		Record:    record,
		Timestamp: e.now(),
	})
}

func (e *Engine) publish(ctx context.Context, ev *domain.PresenceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := e.transport.Publish(ctx, realtime.TopicGlobalPresence, payload); err != nil {
		e.log.Warn("Failed to publish presence event", "type", ev.Type, "error", err)
		return err
	}
	return nil
}
