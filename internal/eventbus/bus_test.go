package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: JobScheduled, Data: JobEvent{Key: "refresh:t1"}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, JobScheduled, e.Type)
		assert.False(t, e.Time.IsZero())
		assert.Equal(t, "refresh:t1", e.Data.(JobEvent).Key)
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // buffer full, dropped

	require.Len(t, ch, 1)
	assert.Equal(t, "a", (<-ch).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}
