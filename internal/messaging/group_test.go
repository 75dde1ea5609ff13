package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/resume-tracker/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRunnable struct {
	topic       string
	started     bool
	shutdown    bool
	startErr    error
	shutdownErr error
}

func (m *mockRunnable) Topic() string {
	return m.topic
}

func (m *mockRunnable) Start(_ context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}

	m.started = true

	return nil
}

func (m *mockRunnable) Shutdown() error {
	m.shutdown = true

	return m.shutdownErr
}

func TestConsumerGroup_Start(t *testing.T) {
	t.Run("starts all consumers", func(t *testing.T) {
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		consumer1 := &mockRunnable{}
		consumer2 := &mockRunnable{}

		group.Add(consumer1)
		group.Add(consumer2)

		err := group.Start(context.Background())

		require.NoError(t, err)
		assert.True(t, consumer1.started)
		assert.True(t, consumer2.started)

		require.Error(t, group.Start(context.Background()), "second start is rejected")
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		consumer1 := &mockRunnable{}
		consumer2 := &mockRunnable{topic: "link.viewed", startErr: errors.New("start error")}

		group.Add(consumer1)
		group.Add(consumer2)

		err := group.Start(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "link.viewed")
		assert.True(t, consumer1.started)
		assert.True(t, consumer1.shutdown, "started consumers are rolled back")
		assert.False(t, consumer2.started)
	})
}

func TestConsumerGroup_Topics(t *testing.T) {
	group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
	group.Add(&mockRunnable{topic: "link.created"})
	group.Add(&mockRunnable{topic: "link.viewed"})

	assert.Equal(t, []string{"link.created", "link.viewed"}, group.Topics())
}

func TestConsumerGroup_Shutdown(t *testing.T) {
	t.Run("shuts down all consumers", func(t *testing.T) {
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		consumer1 := &mockRunnable{}
		consumer2 := &mockRunnable{}

		group.Add(consumer1)
		group.Add(consumer2)
		_ = group.Start(context.Background())

		err := group.Shutdown()

		require.NoError(t, err)
		assert.True(t, consumer1.shutdown)
		assert.True(t, consumer2.shutdown)
	})

	t.Run("joins every error and still shuts down all", func(t *testing.T) {
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		errCreated := errors.New("shutdown error 1")
		errViewed := errors.New("shutdown error 2")
		consumer1 := &mockRunnable{topic: "link.created", shutdownErr: errCreated}
		consumer2 := &mockRunnable{topic: "link.viewed", shutdownErr: errViewed}

		group.Add(consumer1)
		group.Add(consumer2)
		_ = group.Start(context.Background())

		err := group.Shutdown()

		require.ErrorIs(t, err, errCreated)
		require.ErrorIs(t, err, errViewed)
		assert.Contains(t, err.Error(), "link.viewed: shutdown error 2")
		assert.True(t, consumer1.shutdown)
		assert.True(t, consumer2.shutdown)
	})
}
