package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	"messenger/internal/realtime"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

func jsonMarshalPresence(eventType string, userID uuid.UUID, record *domain.PresenceRecord) ([]byte, error) {
	return json.Marshal(&domain.PresenceEvent{
		Type:      eventType,
		UserID:    userID,
		Record:    record,
		Timestamp: time.Now(),
	})
}

type fakeUsers struct {
	users map[uuid.UUID]*domain.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.ErrNotFound
}

func newTestEngine(t *testing.T, transport *realtime.MemoryTransport, users *fakeUsers) *Engine {
	t.Helper()
	if users == nil {
		users = &fakeUsers{users: map[uuid.UUID]*domain.User{}}
	}
	return NewEngine(transport, transport, users, Config{
		Heartbeat: 30 * time.Second,
		StaleTTL:  90 * time.Second,
	}, logger.New("error"))
}

func TestEnterIsObservedAsOnline(t *testing.T) {
	ctx := context.Background()
	transport := realtime.NewMemoryTransport()

	xID := uuid.New()
	users := &fakeUsers{users: map[uuid.UUID]*domain.User{
		xID: {ID: xID, Username: "x", DisplayName: "User X"},
	}}

	observer := newTestEngine(t, transport, nil)
	require.NoError(t, observer.Start(ctx))
	assert.False(t, observer.IsUserOnline(xID))

	self := newTestEngine(t, transport, users)
	require.NoError(t, self.Start(ctx))
	require.NoError(t, self.Enter(ctx, xID, true))

	assert.True(t, observer.IsUserOnline(xID))
	assert.Contains(t, observer.OnlineUsers(), xID)
}

func TestMembershipSnapshotOnSubscribe(t *testing.T) {
	ctx := context.Background()
	transport := realtime.NewMemoryTransport()

	xID := uuid.New()
	self := newTestEngine(t, transport, nil)
	require.NoError(t, self.Start(ctx))
	require.NoError(t, self.Enter(ctx, xID, true))

	// Поздний подписчик восстанавливает состав снапшотом, не событиями.
	late := newTestEngine(t, transport, nil)
	require.NoError(t, late.Start(ctx))

	assert.True(t, late.IsUserOnline(xID))
}

func TestUpdateRefreshesMetadataWithoutTransition(t *testing.T) {
	ctx := context.Background()
	transport := realtime.NewMemoryTransport()

	observer := newTestEngine(t, transport, nil)
	require.NoError(t, observer.Start(ctx))

	xID := uuid.New()
	self := newTestEngine(t, transport, nil)
	require.NoError(t, self.Start(ctx))
	require.NoError(t, self.Enter(ctx, xID, true))

	// Смена видимости — update, участник остается present.
	require.NoError(t, self.UpdateVisibility(ctx, false))
	assert.True(t, observer.IsUserOnline(xID))

	// Update для неизвестного пользователя не создает членство.
	ghost := uuid.New()
	ghostRecord := &domain.PresenceRecord{UserID: ghost, LastActive: time.Now()}
	payload, err := jsonMarshalPresence(domain.PresenceUpdate, ghost, ghostRecord)
	require.NoError(t, err)
	require.NoError(t, transport.Publish(ctx, realtime.TopicGlobalPresence, payload))

	assert.False(t, observer.IsUserOnline(ghost))
}

func TestExplicitLeave(t *testing.T) {
	ctx := context.Background()
	transport := realtime.NewMemoryTransport()

	observer := newTestEngine(t, transport, nil)
	require.NoError(t, observer.Start(ctx))

	xID := uuid.New()
	self := newTestEngine(t, transport, nil)
	require.NoError(t, self.Start(ctx))
	require.NoError(t, self.Enter(ctx, xID, true))
	require.True(t, observer.IsUserOnline(xID))

	require.NoError(t, self.Leave(ctx))
	assert.False(t, observer.IsUserOnline(xID))

	// Повторный Leave без Enter — no-op.
	require.NoError(t, self.Leave(ctx))
}

func TestUncleanDisconnectIsEventuallyOffline(t *testing.T) {
	ctx := context.Background()
	transport := realtime.NewMemoryTransport()

	observer := newTestEngine(t, transport, nil)
	require.NoError(t, observer.Start(ctx))

	xID := uuid.New()
	self := newTestEngine(t, transport, nil)
	require.NoError(t, self.Start(ctx))
	require.NoError(t, self.Enter(ctx, xID, true))
	require.True(t, observer.IsUserOnline(xID))

	// Процесс X умер без leave: heartbeat больше не приходит.
	// После протухания TTL наблюдатель считает X offline.
	observer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assert.False(t, observer.IsUserOnline(xID), "no permanently stuck online")
	assert.NotContains(t, observer.OnlineUsers(), xID)

	observer.reap()
	observer.mu.RLock()
	_, stillTracked := observer.tracked[xID]
	observer.mu.RUnlock()
	assert.False(t, stillTracked)
}

func TestMalformedPresenceEventDropped(t *testing.T) {
	ctx := context.Background()
	transport := realtime.NewMemoryTransport()

	observer := newTestEngine(t, transport, nil)
	require.NoError(t, observer.Start(ctx))

	require.NoError(t, transport.Publish(ctx, realtime.TopicGlobalPresence, []byte("{broken")))
	require.NoError(t, transport.Publish(ctx, realtime.TopicGlobalPresence, []byte(`{"type":"enter"}`)))

	assert.Empty(t, observer.OnlineUsers())
}
