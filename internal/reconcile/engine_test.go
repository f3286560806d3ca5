package reconcile

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	"messenger/pkg/logger"
)

func newTestEngine(t *testing.T, conversationID uuid.UUID) *Engine {
	t.Helper()
	e := NewEngine(Config{PageSize: 5, TTL: 5 * time.Minute, SweepInterval: 30 * time.Second}, logger.New("error"))
	e.SetConversation(conversationID)
	return e
}

func makeMessage(conversationID uuid.UUID, createdAt time.Time) *domain.Message {
	return &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       uuid.New(),
		ReceiverID:     uuid.New(),
		Content:        "hello",
		Reactions:      []domain.Reaction{},
		CreatedAt:      createdAt,
	}
}

func TestViewHasNoDuplicateIDs(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	base := time.Now().UTC()
	msg := makeMessage(convID, base)

	gen := e.BeginFetch()
	require.True(t, e.ApplyPage(gen, []*domain.Message{msg, makeMessage(convID, base.Add(time.Second))}))

	// То же сообщение приходит пушем дважды: at-least-once канал.
	e.ApplyMessage(msg)
	e.ApplyMessage(msg)

	view := e.View()
	seen := make(map[uuid.UUID]bool)
	for _, m := range view {
		assert.False(t, seen[m.ID], "duplicate id %s in view", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, view, 2)
}

func TestOverlayWinsOverDurable(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	msg := makeMessage(convID, time.Now().UTC())
	gen := e.BeginFetch()
	e.ApplyPage(gen, []*domain.Message{msg})

	fresher := *msg
	fresher.Reactions = []domain.Reaction{{ID: uuid.New(), MessageID: msg.ID, UserID: uuid.New(), Emoji: "❤️"}}
	e.ApplyMessage(&fresher)

	view := e.View()
	require.Len(t, view, 1)
	assert.Len(t, view[0].Reactions, 1, "overlay copy must be the one rendered")
}

func TestOrphanReactionIsSafeNoop(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	// Реакция на сообщение, которого нет ни в durable, ни в оверлее.
	orphan := &domain.Reaction{ID: uuid.New(), MessageID: uuid.New(), UserID: uuid.New(), Emoji: "😂"}
	e.ApplyReactionAdded(orphan)

	assert.Empty(t, e.View())

	// Когда сообщение появляется, отложенная реакция применяется.
	msg := makeMessage(convID, time.Now().UTC())
	msg.ID = orphan.MessageID
	e.ApplyMessage(msg)

	view := e.View()
	require.Len(t, view, 1)
	require.Len(t, view[0].Reactions, 1)
	assert.Equal(t, "😂", view[0].Reactions[0].Emoji)
}

func TestViewSortedAscendingRegardlessOfArrival(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	base := time.Now().UTC().Truncate(time.Millisecond)
	third := makeMessage(convID, base.Add(2*time.Second))
	first := makeMessage(convID, base)
	second := makeMessage(convID, base.Add(time.Second))

	// Пуши приходят в произвольном порядке, durable-страница — после.
	e.ApplyMessage(third)
	e.ApplyMessage(second)
	gen := e.BeginFetch()
	e.ApplyPage(gen, []*domain.Message{first})

	view := e.View()
	require.Len(t, view, 3)
	assert.Equal(t, first.ID, view[0].ID)
	assert.Equal(t, second.ID, view[1].ID)
	assert.Equal(t, third.ID, view[2].ID)
}

func TestTimestampCollisionBreaksTieByID(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	at := time.Now().UTC().Truncate(time.Millisecond)
	a := makeMessage(convID, at)
	b := makeMessage(convID, at)

	e.ApplyMessage(b)
	e.ApplyMessage(a)

	view := e.View()
	require.Len(t, view, 2)
	assert.True(t, view[0].ID.String() < view[1].ID.String())
}

func TestOverlayCapacityBound(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	for i := 0; i < 20; i++ {
		e.ApplyMessage(makeMessage(convID, time.Now().UTC().Add(time.Duration(i)*time.Millisecond)))
	}

	e.mu.Lock()
	size := len(e.overlayMsgs)
	e.mu.Unlock()
	assert.LessOrEqual(t, size, 5, "overlay must never exceed the page size")
}

func TestSweepEvictsAgedEntries(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	e.ApplyMessage(makeMessage(convID, now))
	e.ApplyReactionAdded(&domain.Reaction{ID: uuid.New(), MessageID: uuid.New(), UserID: uuid.New(), Emoji: "👍"})

	// Sweep идет периодически даже без новых вставок.
	e.now = func() time.Time { return now.Add(6 * time.Minute) }
	e.Sweep()

	e.mu.Lock()
	msgs, reacts := len(e.overlayMsgs), len(e.overlayReacts)
	e.mu.Unlock()
	assert.Zero(t, msgs)
	assert.Zero(t, reacts)
}

func TestConversationSwitchClearsOverlays(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	e.ApplyMessage(makeMessage(convID, time.Now().UTC()))
	require.Len(t, e.View(), 1)

	e.SetConversation(uuid.New())
	assert.Empty(t, e.View(), "no cross-conversation leakage after switch")
}

func TestStaleFetchIgnored(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	stale := e.BeginFetch()
	fresh := e.BeginFetch()

	assert.False(t, e.ApplyPage(stale, []*domain.Message{makeMessage(convID, time.Now().UTC())}))
	assert.Empty(t, e.View())

	assert.True(t, e.ApplyPage(fresh, []*domain.Message{makeMessage(convID, time.Now().UTC())}))
	assert.Len(t, e.View(), 1)
}

func TestForeignConversationEventsIgnored(t *testing.T) {
	e := newTestEngine(t, uuid.New())

	e.ApplyMessage(makeMessage(uuid.New(), time.Now().UTC()))
	assert.Empty(t, e.View())
}

func TestOptimisticEchoThenAuthoritativePush(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	// Оптимистичное эхо с временным id.
	temp := makeMessage(convID, time.Now().UTC())
	action := e.ApplyLocalEcho(temp)
	assert.Equal(t, StatePending, action.State())
	require.Len(t, e.View(), 1)

	// Сервер присвоил настоящий id.
	authoritative := *temp
	authoritative.ID = uuid.New()
	e.ConfirmLocalEcho(temp.ID, &authoritative)

	view := e.View()
	require.Len(t, view, 1, "exactly one message after confirm")
	assert.Equal(t, authoritative.ID, view[0].ID)
	assert.Equal(t, StateConfirmed, action.State())

	// Авторитетный push того же сообщения — перезапись, не дубликат.
	e.ApplyMessage(&authoritative)
	assert.Len(t, e.View(), 1)
}

func TestRollbackRemovesEcho(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	temp := makeMessage(convID, time.Now().UTC())
	action := e.ApplyLocalEcho(temp)
	e.RollbackLocalEcho(temp.ID)

	assert.Empty(t, e.View())
	assert.Equal(t, StateRolledBack, action.State())
}

func TestReactionReplaceAndRemove(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	msg := makeMessage(convID, time.Now().UTC())
	e.ApplyMessage(msg)

	userID := uuid.New()
	e.ApplyReactionAdded(&domain.Reaction{ID: uuid.New(), MessageID: msg.ID, UserID: userID, Emoji: "❤️"})
	e.ApplyReactionAdded(&domain.Reaction{ID: uuid.New(), MessageID: msg.ID, UserID: userID, Emoji: "😂"})

	view := e.View()
	require.Len(t, view, 1)
	require.Len(t, view[0].Reactions, 1, "second reaction replaces the first")
	assert.Equal(t, "😂", view[0].Reactions[0].Emoji)

	e.ApplyReactionRemoved(msg.ID, userID)
	assert.Empty(t, e.View()[0].Reactions)
}

func TestHandleEventDropsMalformedPayloads(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	e.HandleEvent([]byte("{not json"))
	e.HandleEvent([]byte(`{"type":""}`))
	e.HandleEvent([]byte(`{"type":"new_message"}`))
	e.HandleEvent([]byte(`{"type":"reaction_added"}`))
	e.HandleEvent([]byte(`{"type":"mystery"}`))

	assert.Empty(t, e.View())
}

func TestHandleEventAppliesValidPayloads(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	msg := makeMessage(convID, time.Now().UTC())
	payload, err := json.Marshal(&domain.MessageEvent{
		Type:      domain.EventNewMessage,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	e.HandleEvent(payload)
	require.Len(t, e.View(), 1)

	reactionPayload, err := json.Marshal(&domain.ReactionEvent{
		Type:      domain.EventReactionAdded,
		MessageID: msg.ID,
		Reaction:  &domain.Reaction{ID: uuid.New(), MessageID: msg.ID, UserID: uuid.New(), Emoji: "🎉"},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	e.HandleEvent(reactionPayload)
	assert.Len(t, e.View()[0].Reactions, 1)
}

func TestOnChangeFiresWithMergedView(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	var last []*domain.Message
	e.OnChange(func(view []*domain.Message) { last = view })

	e.ApplyMessage(makeMessage(convID, time.Now().UTC()))
	require.Len(t, last, 1)
}

func TestRandomArrivalOrderProperty(t *testing.T) {
	convID := uuid.New()
	e := newTestEngine(t, convID)

	base := time.Now().UTC()
	var all []*domain.Message
	for i := 0; i < 8; i++ {
		all = append(all, makeMessage(convID, base.Add(time.Duration(i)*time.Second)))
	}

	// Половина через durable-страницы, половина пушем, с пересечением.
	gen := e.BeginFetch()
	e.ApplyPage(gen, all[:5])
	for _, m := range all[3:] {
		e.ApplyMessage(m)
	}

	view := e.View()
	require.Len(t, view, len(all))
	for i := 1; i < len(view); i++ {
		require.True(t, view[i-1].Before(view[i]),
			fmt.Sprintf("view out of order at %d", i))
	}
}
