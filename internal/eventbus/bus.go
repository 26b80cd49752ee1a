package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler core.
const (
	JobScheduled  = "job.scheduled"
	JobCanceled   = "job.canceled"
	JobFinished   = "job.finished"
	JobDuplicate  = "job.duplicate"
	TargetRemoved = "target.removed"
	RecoveryDone  = "recovery.done"
)

// Event is an in-memory signal used to decouple the core from observers
// (metrics, admin views).
//
// Publish never blocks. Slow subscribers lose events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobEvent is the Data of every job.* event.
type JobEvent struct {
	Key     string
	Variant string
	Status  string
	Outcome string
	DueTime time.Time
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop is a Bus that drops everything; used when no observer is wired.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Holding the read lock while sending keeps unsubscribe from closing a
	// channel mid-send; sends are non-blocking so the lock is short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
