package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/metrics"
	"messenger/pkg/logger"
)

// Config задает границы оверлея: вместимость равна размеру страницы
// durable-выборки, возраст ограничен TTL, чистка идет периодически
// даже без новых вставок.
type Config struct {
	PageSize      int
	TTL           time.Duration
	SweepInterval time.Duration
}

type overlayMessage struct {
	message    *domain.Message
	insertedAt time.Time
}

type overlayReactions struct {
	reactions []domain.Reaction
	updatedAt time.Time
}

// Engine сводит durable-страницы и живые push-события в один
// согласованный список: без дубликатов id, отсортированный по
// (created_at, id) по возрастанию. Потребитель событий однопоточный:
// все мутации сериализуются мьютексом.
type Engine struct {
	cfg Config
	log logger.Logger
	now func() time.Time

	mu             sync.Mutex
	conversationID uuid.UUID
	durable        map[uuid.UUID]*domain.Message
	overlayMsgs    map[uuid.UUID]overlayMessage
	overlayReacts  map[uuid.UUID]overlayReactions
	pending        map[uuid.UUID]*OptimisticAction
	fetchGen       uint64
	onChange       func([]*domain.Message)
}

func NewEngine(cfg Config, log logger.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	return &Engine{
		cfg:           cfg,
		log:           log,
		now:           time.Now,
		durable:       make(map[uuid.UUID]*domain.Message),
		overlayMsgs:   make(map[uuid.UUID]overlayMessage),
		overlayReacts: make(map[uuid.UUID]overlayReactions),
		pending:       make(map[uuid.UUID]*OptimisticAction),
	}
}

// OnChange регистрирует callback, вызываемый со свежим слитым списком
// после каждой мутации входов.
func (e *Engine) OnChange(fn func([]*domain.Message)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// SetConversation переключает активный диалог. Оба оверлея очищаются
// немедленно, исключая перетекание данных между диалогами; начатые
// ранее выборки становятся устаревшими.
func (e *Engine) SetConversation(conversationID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conversationID == conversationID {
		return
	}
	e.conversationID = conversationID
	e.durable = make(map[uuid.UUID]*domain.Message)
	e.overlayMsgs = make(map[uuid.UUID]overlayMessage)
	e.overlayReacts = make(map[uuid.UUID]overlayReactions)
	e.pending = make(map[uuid.UUID]*OptimisticAction)
	e.fetchGen++
	e.updateGauges()
}

// BeginFetch выдает токен поколения выборки. Страница, примененная с
// устаревшим токеном (начата более новая выборка), молча игнорируется.
func (e *Engine) BeginFetch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchGen++
	return e.fetchGen
}

// ApplyPage вливает durable-страницу в накопленную карту. Страницы
// содержат уникальные id; порядок внутри страницы (desc) здесь не важен,
// итоговая сортировка — на слиянии.
func (e *Engine) ApplyPage(gen uint64, messages []*domain.Message) bool {
	e.mu.Lock()
	if gen != e.fetchGen {
		e.mu.Unlock()
		return false
	}

	for _, m := range messages {
		if m.ConversationID != e.conversationID {
			continue
		}
		e.durable[m.ID] = m
	}
	e.mu.Unlock()

	e.notify()
	return true
}

// HandleEvent — вход для сырых push-событий. Невалидный payload
// отбрасывается с предупреждением, движок не падает.
func (e *Engine) HandleEvent(payload []byte) {
	eventType, err := domain.EventType(payload)
	if err != nil {
		e.drop("no_type", err)
		return
	}

	switch eventType {
	case domain.EventNewMessage:
		ev, err := domain.ParseMessageEvent(payload)
		if err != nil {
			e.drop("bad_message", err)
			return
		}
		e.ApplyMessage(ev.Message)
	case domain.EventReactionAdded:
		ev, err := domain.ParseReactionEvent(payload)
		if err != nil {
			e.drop("bad_reaction", err)
			return
		}
		e.ApplyReactionAdded(ev.Reaction)
	case domain.EventReactionRemoved:
		ev, err := domain.ParseReactionEvent(payload)
		if err != nil {
			e.drop("bad_reaction", err)
			return
		}
		e.ApplyReactionRemoved(ev.MessageID, ev.UserID)
	default:
		e.drop("unknown_type", nil)
	}
}

// ApplyMessage кладет пришедшее сообщение в оверлей. Повторное событие
// того же id перезаписывает запись, а не дублирует ее — это закрывает
// пару оптимистичное эхо / авторитетный push с одинаковым id.
func (e *Engine) ApplyMessage(message *domain.Message) {
	e.mu.Lock()
	if message.ConversationID != e.conversationID {
		e.mu.Unlock()
		return
	}
	e.overlayMsgs[message.ID] = overlayMessage{message: message, insertedAt: e.now()}
	e.evictLocked()
	e.mu.Unlock()

	e.notify()
}

// ApplyLocalEcho регистрирует оптимистичную отправку с временным id и
// возвращает ее машину состояний {pending, confirmed, rolled_back}.
func (e *Engine) ApplyLocalEcho(message *domain.Message) *OptimisticAction {
	action := NewOptimisticAction(message.ID)

	e.mu.Lock()
	if message.ConversationID != e.conversationID {
		e.mu.Unlock()
		return action
	}
	e.pending[message.ID] = action
	e.overlayMsgs[message.ID] = overlayMessage{message: message, insertedAt: e.now()}
	e.evictLocked()
	e.mu.Unlock()

	e.notify()
	return action
}

// ConfirmLocalEcho заменяет временную запись авторитетной: сервер
// присвоил настоящий id, запись с временным id исчезает из оверлея.
func (e *Engine) ConfirmLocalEcho(tempID uuid.UUID, authoritative *domain.Message) {
	e.mu.Lock()
	if action, ok := e.pending[tempID]; ok {
		if err := action.Confirm(); err != nil {
			e.log.Warn("Optimistic confirm out of order", "temp_id", tempID, "error", err)
		}
		delete(e.pending, tempID)
	}
	delete(e.overlayMsgs, tempID)
	delete(e.overlayReacts, tempID)
	if authoritative != nil && authoritative.ConversationID == e.conversationID {
		e.overlayMsgs[authoritative.ID] = overlayMessage{message: authoritative, insertedAt: e.now()}
		e.evictLocked()
	}
	e.mu.Unlock()

	e.notify()
}

// RollbackLocalEcho убирает неподтвержденную отправку (сервер ответил
// ошибкой); текст остается у вызывающего для повтора.
func (e *Engine) RollbackLocalEcho(tempID uuid.UUID) {
	e.mu.Lock()
	if action, ok := e.pending[tempID]; ok {
		if err := action.Rollback(); err != nil {
			e.log.Warn("Optimistic rollback out of order", "temp_id", tempID, "error", err)
		}
		delete(e.pending, tempID)
	}
	delete(e.overlayMsgs, tempID)
	delete(e.overlayReacts, tempID)
	e.mu.Unlock()

	e.notify()
}

// ApplyReactionAdded обновляет список реакций сообщения в оверлее
// реакций. Сообщение может еще не существовать ни в durable-карте, ни
// в оверлее — тогда запись безвредно подождет его появления.
func (e *Engine) ApplyReactionAdded(reaction *domain.Reaction) {
	e.mu.Lock()
	current := e.currentReactionsLocked(reaction.MessageID)

	next := make([]domain.Reaction, 0, len(current)+1)
	for _, r := range current {
		// Одна реакция на пару (user, message): старая вытесняется.
		if r.UserID != reaction.UserID {
			next = append(next, r)
		}
	}
	next = append(next, *reaction)

	e.overlayReacts[reaction.MessageID] = overlayReactions{reactions: next, updatedAt: e.now()}
	e.evictLocked()
	e.mu.Unlock()

	e.notify()
}

func (e *Engine) ApplyReactionRemoved(messageID, userID uuid.UUID) {
	e.mu.Lock()
	current := e.currentReactionsLocked(messageID)

	next := make([]domain.Reaction, 0, len(current))
	for _, r := range current {
		if r.UserID != userID {
			next = append(next, r)
		}
	}

	e.overlayReacts[messageID] = overlayReactions{reactions: next, updatedAt: e.now()}
	e.evictLocked()
	e.mu.Unlock()

	e.notify()
}

// Sweep выполняет возрастную чистку оверлеев. Вызывается периодически
// независимо от новых вставок.
func (e *Engine) Sweep() {
	e.mu.Lock()
	changed := e.sweepLocked()
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

// Run крутит периодический sweep до отмены контекста.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// View выполняет слияние: durable-карта, поверх нее оверлей сообщений
// (оверлей всегда побеждает durable-запись с тем же id), затем оверлей
// реакций патчит любое сообщение объединенной карты; результат
// сортируется по (created_at, id) по возрастанию.
func (e *Engine) View() []*domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) viewLocked() []*domain.Message {
	combined := make(map[uuid.UUID]*domain.Message, len(e.durable)+len(e.overlayMsgs))
	for id, m := range e.durable {
		combined[id] = m
	}
	for id, entry := range e.overlayMsgs {
		combined[id] = entry.message
	}

	// Реакции применяются к любому сообщению объединенной карты,
	// независимо от того, из какого источника оно пришло. Сообщение
	// копируется, чтобы патч не протек во входные данные.
	for id, entry := range e.overlayReacts {
		m, ok := combined[id]
		if !ok {
			continue
		}
		patched := *m
		patched.Reactions = entry.reactions
		combined[id] = &patched
	}

	view := make([]*domain.Message, 0, len(combined))
	for _, m := range combined {
		view = append(view, m)
	}
	sort.Slice(view, func(i, j int) bool { return view[i].Before(view[j]) })

	return view
}

// currentReactionsLocked — актуальный известный список реакций
// сообщения: оверлей реакций, иначе само сообщение.
func (e *Engine) currentReactionsLocked(messageID uuid.UUID) []domain.Reaction {
	if entry, ok := e.overlayReacts[messageID]; ok {
		return entry.reactions
	}
	if entry, ok := e.overlayMsgs[messageID]; ok {
		return entry.message.Reactions
	}
	if m, ok := e.durable[messageID]; ok {
		return m.Reactions
	}
	return nil
}

// evictLocked применяет обе политики после вставки: возраст и размер
// (остаются только PageSize самых свежих по времени вставки).
func (e *Engine) evictLocked() {
	e.sweepLocked()

	for len(e.overlayMsgs) > e.cfg.PageSize {
		e.evictOldestMessageLocked()
	}
	for len(e.overlayReacts) > e.cfg.PageSize {
		e.evictOldestReactionsLocked()
	}
	e.updateGauges()
}

func (e *Engine) sweepLocked() bool {
	cutoff := e.now().Add(-e.cfg.TTL)
	changed := false

	for id, entry := range e.overlayMsgs {
		if entry.insertedAt.Before(cutoff) {
			delete(e.overlayMsgs, id)
			metrics.OverlayEvictions.WithLabelValues("ttl").Inc()
			changed = true
		}
	}
	for id, entry := range e.overlayReacts {
		if entry.updatedAt.Before(cutoff) {
			delete(e.overlayReacts, id)
			metrics.OverlayEvictions.WithLabelValues("ttl").Inc()
			changed = true
		}
	}

	if changed {
		e.updateGauges()
	}
	return changed
}

func (e *Engine) evictOldestMessageLocked() {
	var oldest uuid.UUID
	var oldestAt time.Time
	first := true
	for id, entry := range e.overlayMsgs {
		if first || entry.insertedAt.Before(oldestAt) {
			oldest, oldestAt, first = id, entry.insertedAt, false
		}
	}
	delete(e.overlayMsgs, oldest)
	metrics.OverlayEvictions.WithLabelValues("capacity").Inc()
}

func (e *Engine) evictOldestReactionsLocked() {
	var oldest uuid.UUID
	var oldestAt time.Time
	first := true
	for id, entry := range e.overlayReacts {
		if first || entry.updatedAt.Before(oldestAt) {
			oldest, oldestAt, first = id, entry.updatedAt, false
		}
	}
	delete(e.overlayReacts, oldest)
	metrics.OverlayEvictions.WithLabelValues("capacity").Inc()
}

func (e *Engine) updateGauges() {
	metrics.OverlaySize.WithLabelValues("messages").Set(float64(len(e.overlayMsgs)))
	metrics.OverlaySize.WithLabelValues("reactions").Set(float64(len(e.overlayReacts)))
}

func (e *Engine) drop(reason string, err error) {
	e.log.Warn("Dropping malformed push event", "reason", reason, "error", err)
	metrics.EventsDropped.WithLabelValues(reason).Inc()
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onChange
	var view []*domain.Message
	if fn != nil {
		view = e.viewLocked()
	}
	e.mu.Unlock()

	if fn != nil {
		fn(view)
	}
}
