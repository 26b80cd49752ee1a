// Package keylock serializes work per string key with a fixed set of
// striped mutexes. Distinct keys may share a stripe.
package keylock

import (
	"hash/fnv"
	"sync"
)

const DefaultStripes = 64

type Striped struct {
	mus []sync.Mutex
}

func New(stripes int) *Striped {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	return &Striped{mus: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	mu := &s.mus[fnv64a(key)%uint64(len(s.mus))]
	mu.Lock()
	return mu.Unlock
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
