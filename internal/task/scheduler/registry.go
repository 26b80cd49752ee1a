package scheduler

import (
	"sync"
	"time"

	"triptimer/internal/clock"
)

// Registry holds at most one armed timer per key.
//
// Each Set bumps the key's version; a callback whose version is no longer
// current does nothing, so a timer that fired while being replaced is inert.
type Registry struct {
	clock clock.Clock

	mu      sync.Mutex
	seq     uint64
	entries map[string]*timerEntry
	stopped bool
}

type timerEntry struct {
	ver   uint64
	due   time.Time
	timer clock.Timer
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{clock: clk, entries: map[string]*timerEntry{}}
}

// Set arms fire at due, replacing any timer for key. It returns false after
// Stop.
func (r *Registry) Set(key string, due time.Time, fire func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	if old, ok := r.entries[key]; ok {
		old.timer.Stop()
	}
	r.seq++
	ver := r.seq

	delay := due.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e := &timerEntry{ver: ver, due: due}
	e.timer = r.clock.AfterFunc(delay, func() {
		r.mu.Lock()
		cur, ok := r.entries[key]
		if !ok || cur.ver != ver {
			r.mu.Unlock()
			return
		}
		delete(r.entries, key)
		r.mu.Unlock()
		fire()
	})
	r.entries[key] = e
	return true
}

// Cancel disarms key. It reports whether a timer was armed.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	return true
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Due returns the fire time armed for key.
func (r *Registry) Due(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.due, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop disarms everything and rejects further Sets.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, k)
	}
	r.stopped = true
}
