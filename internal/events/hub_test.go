package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubDeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub()

	var got []Event
	unsub := hub.Subscribe(TopicAttemptFinished, func(_ context.Context, ev Event) {
		got = append(got, ev)
	})

	hub.Publish(context.Background(), TopicAttemptFinished, "payload-1", map[string]string{"provider": "openai"})
	hub.Publish(context.Background(), TopicCredentialsChanged, "other-topic", nil)

	assert.Len(t, got, 1)
	assert.Equal(t, TopicAttemptFinished, got[0].Topic)
	assert.Equal(t, "payload-1", got[0].Payload)
	assert.Equal(t, "openai", got[0].Metadata["provider"])

	unsub()
	hub.Publish(context.Background(), TopicAttemptFinished, "payload-2", nil)
	assert.Len(t, got, 1, "no delivery after unsubscribe")
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := NewHub()
	count := 0
	for i := 0; i < 3; i++ {
		hub.Subscribe(TopicUsageReset, func(context.Context, Event) { count++ })
	}
	hub.Publish(context.Background(), TopicUsageReset, nil, nil)
	assert.Equal(t, 3, count)
}
