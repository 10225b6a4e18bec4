package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	attempts, unsubAttempts := b.Subscribe(4, TypeAttemptCompleted)
	defer unsubAttempts()

	b.Publish(Event{Type: TypeSubmissionLogged, Data: "entry-1"})
	b.Publish(Event{Type: TypeAttemptCompleted, Data: AttemptCompleted{Target: "telegram"}})

	require.Len(t, all, 2)
	require.Len(t, attempts, 1)
	e := <-attempts
	assert.Equal(t, TypeAttemptCompleted, e.Type)
	assert.False(t, e.Time.IsZero())
	assert.Equal(t, "telegram", e.Data.(AttemptCompleted).Target)
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "x"})
}
