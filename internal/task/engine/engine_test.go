package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptimer/internal/eventbus"
	logx "triptimer/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitRunsTask(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startEngine(t, Config{Workers: 2}, bus)

	done := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), Task{Name: "job", Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{EventTaskStarted, EventTaskFinished}, types)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, s.Submit(context.Background(), Task{Name: "bad", Run: func(context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, s.Submit(context.Background(), Task{Name: "good", Run: func(context.Context) error {
		wg.Done()
		return nil
	}}))
	wg.Wait()

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, 2*time.Second, 10*time.Millisecond)
	h := s.Snapshot().History
	assert.Contains(t, h[0].Error, "panic: boom")
	assert.Empty(t, h[1].Error)
}

func TestDefaultTimeoutApplies(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)

	errCh := make(chan error, 1)
	require.NoError(t, s.Submit(context.Background(), Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}))
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout not applied")
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1}, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), Task{Name: "hold", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, s.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().Dropped)

	// Submit waits for room instead of dropping.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Submit(ctx, Task{Name: "wait", Run: func(context.Context) error { return nil }}), context.DeadlineExceeded)
	close(block)
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Submit(context.Background(), Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
	assert.Error(t, s.Enqueue(Task{Name: "", Run: func(context.Context) error { return nil }}))
}
