package realtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/pkg/logger"
)

func TestMemoryTransportPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	transport := NewMemoryTransport()

	var got [][]byte
	sub, err := transport.Subscribe(ctx, "conversation:abc", func(_ string, payload []byte) {
		got = append(got, payload)
	})
	require.NoError(t, err)

	require.NoError(t, transport.Publish(ctx, "conversation:abc", []byte("one")))
	require.NoError(t, transport.Publish(ctx, "conversation:other", []byte("two")))

	require.Len(t, got, 1)
	assert.Equal(t, "one", string(got[0]))

	// После Cancel события не доставляются.
	sub.Cancel()
	require.NoError(t, transport.Publish(ctx, "conversation:abc", []byte("three")))
	assert.Len(t, got, 1)

	// Повторный Cancel безопасен.
	sub.Cancel()
}

func TestMemoryTransportMembership(t *testing.T) {
	ctx := context.Background()
	transport := NewMemoryTransport()

	require.NoError(t, transport.SetMember(ctx, TopicGlobalPresence, "u1", []byte("a")))
	require.NoError(t, transport.SetMember(ctx, TopicGlobalPresence, "u2", []byte("b")))

	members, err := transport.Members(ctx, TopicGlobalPresence)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, transport.RemoveMember(ctx, TopicGlobalPresence, "u1"))
	members, err = transport.Members(ctx, TopicGlobalPresence)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Equal(t, "b", string(members["u2"]))
}

func TestTopicNames(t *testing.T) {
	convID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	userID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, "conversation:11111111-1111-1111-1111-111111111111", ConversationTopic(convID))
	assert.Equal(t, "messages:22222222-2222-2222-2222-222222222222", InboxTopic(userID))
	assert.Equal(t, "likes:post:11111111-1111-1111-1111-111111111111", PostLikesTopic(convID))
	assert.Equal(t, "notifications:22222222-2222-2222-2222-222222222222", NotificationsTopic(userID))
	assert.Equal(t, "global-presence", TopicGlobalPresence)
}

func TestManagerIdentitySwapCancelsSubscriptions(t *testing.T) {
	ctx := context.Background()
	transport := NewMemoryTransport()
	manager := NewManager(transport, logger.New("error"))

	alice := uuid.New()
	manager.Connect(alice)
	assert.Equal(t, alice, manager.Identity())

	delivered := 0
	_, err := manager.Subscribe(ctx, InboxTopic(alice), func(string, []byte) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, manager.Publish(ctx, InboxTopic(alice), []byte("hi")))
	assert.Equal(t, 1, delivered)

	// Та же identity — подписки живут.
	manager.Connect(alice)
	require.NoError(t, manager.Publish(ctx, InboxTopic(alice), []byte("hi")))
	assert.Equal(t, 2, delivered)

	// Смена identity сбрасывает подписки предыдущей.
	manager.Connect(uuid.New())
	require.NoError(t, manager.Publish(ctx, InboxTopic(alice), []byte("hi")))
	assert.Equal(t, 2, delivered)
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	transport := NewMemoryTransport()
	manager := NewManager(transport, logger.New("error"))

	manager.Connect(uuid.New())
	delivered := 0
	_, err := manager.Subscribe(ctx, "topic", func(string, []byte) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	assert.Equal(t, uuid.Nil, manager.Identity())

	require.NoError(t, transport.Publish(ctx, "topic", []byte("late")))
	assert.Zero(t, delivered)
}
