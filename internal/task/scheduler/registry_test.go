package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"triptimer/internal/clock"
)

func TestRegistryFiresAtDue(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(t0)
	r := NewRegistry(clk)

	var fired []string
	r.Set("a", t0.Add(time.Minute), func() { fired = append(fired, "a") })
	assert.True(t, r.Has("a"))
	due, ok := r.Due("a")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), due)

	clk.Advance(59 * time.Second)
	assert.Empty(t, fired)
	clk.Advance(time.Second)
	assert.Equal(t, []string{"a"}, fired)
	assert.False(t, r.Has("a"))
	assert.Zero(t, r.Len())
}

func TestRegistrySetReplaces(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(t0)
	r := NewRegistry(clk)

	var fired []time.Time
	r.Set("k", t0.Add(time.Minute), func() { fired = append(fired, clk.Now()) })
	r.Set("k", t0.Add(3*time.Minute), func() { fired = append(fired, clk.Now()) })
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(5 * time.Minute)
	assert.Equal(t, []time.Time{t0.Add(3 * time.Minute)}, fired)
}

func TestRegistryCancelAndStop(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(t0)
	r := NewRegistry(clk)

	calls := 0
	r.Set("a", t0.Add(time.Minute), func() { calls++ })
	r.Set("b", t0.Add(time.Minute), func() { calls++ })
	assert.True(t, r.Cancel("a"))
	assert.False(t, r.Cancel("a"))

	r.Stop()
	assert.Zero(t, r.Len())
	assert.False(t, r.Set("c", t0.Add(time.Minute), func() { calls++ }))

	clk.Advance(time.Hour)
	assert.Zero(t, calls)
}

func TestRegistryPastDueFiresImmediately(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(t0)
	r := NewRegistry(clk)
	calls := 0
	r.Set("a", t0.Add(-time.Minute), func() { calls++ })
	clk.Advance(0)
	assert.Equal(t, 1, calls)
}
