package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTopic(t *testing.T) {
	p := NewPublisher()

	require.NoError(t, p.NewTopic("test-topic", time.Second))
	_, ok := p.topics["test-topic"]
	assert.True(t, ok)

	assert.ErrorIs(t, p.NewTopic("test-topic", time.Second), ErrTopicExists)
}

func TestRegisterSubscriber(t *testing.T) {
	p := NewPublisher()

	assert.ErrorIs(t, p.RegisterSubscriber("missing", func(any) {}), ErrTopicNotFound)

	require.NoError(t, p.NewTopic("test-topic", time.Second))
	require.NoError(t, p.RegisterSubscriber("test-topic", func(any) {}))
	assert.Len(t, p.topics["test-topic"].subscribers, 1)
}

func TestPublish(t *testing.T) {
	p := NewLinkPublisher(time.Second)
	assert.ErrorIs(t, p.Publish("missing", nil), ErrTopicNotFound)

	var (
		mu       sync.Mutex
		received []LinkEvent
	)
	for i := 0; i < 2; i++ {
		require.NoError(t, p.RegisterSubscriber(LinkConnected, func(param any) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, param.(LinkEvent))
		}))
	}

	ev := LinkEvent{Name: "client", Session: "s1"}
	require.NoError(t, p.Publish(LinkConnected, ev))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []LinkEvent{ev, ev}, received)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	p := NewLinkPublisher(time.Second)
	assert.NoError(t, p.Publish(LinkClosed, LinkEvent{}))
}

func TestPublishTimeout(t *testing.T) {
	p := NewPublisher()
	require.NoError(t, p.NewTopic("slow", 10*time.Millisecond))

	release := make(chan struct{})
	require.NoError(t, p.RegisterSubscriber("slow", func(any) { <-release }))

	assert.ErrorIs(t, p.Publish("slow", nil), ErrPublishTimeout)
	close(release)
}
