package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relayops/agent-runtime/internal/errval"
)

// TestPool_BoundedConcurrency: no more units than the configured capacity may
// execute at the same time, whatever the submission burst looks like
func TestPool_BoundedConcurrency(t *testing.T) {
	const capacity = 3
	const units = 20

	p := New(capacity)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	wg.Add(units)

	for i := 0; i < units; i++ {
		err := p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			now := current.Add(1)
			for {
				observed := peak.Load()
				if now <= observed || peak.CompareAndSwap(observed, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
		})
		assert.NoError(t, err)
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(capacity))
}

func TestPool_Submit(t *testing.T) {
	t.Run("it should run the unit and release the slot", func(t *testing.T) {
		p := New(1)
		done := make(chan struct{})

		err := p.Submit(context.Background(), func(ctx context.Context) {
			close(done)
		})
		assert.NoError(t, err)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("submitted unit never ran")
		}

		// Slot release is asynchronous with unit completion
		deadline := time.Now().Add(2 * time.Second)
		for p.AvailableSlots() != 1 {
			if time.Now().After(deadline) {
				t.Fatal("slot was not released after the unit finished")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("it should fail fast after shutdown", func(t *testing.T) {
		p := New(1)
		p.Shutdown(100 * time.Millisecond)

		err := p.Submit(context.Background(), func(ctx context.Context) {})
		assert.ErrorIs(t, err, errval.ErrPoolClosed)
	})
}

func TestPool_WaitSlot(t *testing.T) {
	t.Run("it should return immediately when a slot is free", func(t *testing.T) {
		p := New(2)
		err := p.WaitSlot(context.Background())
		assert.NoError(t, err)
	})

	t.Run("it should block while saturated and return once a unit finishes", func(t *testing.T) {
		p := New(1)
		release := make(chan struct{})

		_ = p.Submit(context.Background(), func(ctx context.Context) {
			<-release
		})

		// Let the unit pass the permit barrier
		time.Sleep(50 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.WaitSlot(ctx), context.DeadlineExceeded)

		close(release)
		assert.NoError(t, p.WaitSlot(context.Background()))
	})
}

// TestPool_Shutdown: shutdown must terminate even when units ignore their
// deadline, as long as they honor context cancellation
func TestPool_Shutdown(t *testing.T) {
	t.Run("it should wait for units that finish naturally", func(t *testing.T) {
		p := New(2)
		var finished atomic.Int64

		for i := 0; i < 2; i++ {
			_ = p.Submit(context.Background(), func(ctx context.Context) {
				time.Sleep(50 * time.Millisecond)
				finished.Add(1)
			})
		}

		p.Shutdown(2 * time.Second)
		assert.Equal(t, int64(2), finished.Load())
		assert.Equal(t, 0, p.ActiveCount())
	})

	t.Run("it should cancel stragglers after the timeout", func(t *testing.T) {
		p := New(1)
		cancelled := make(chan struct{})

		_ = p.Submit(context.Background(), func(ctx context.Context) {
			<-ctx.Done()
			close(cancelled)
		})

		// Let the unit pass the permit barrier before shutting down
		time.Sleep(50 * time.Millisecond)

		start := time.Now()
		p.Shutdown(100 * time.Millisecond)

		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("straggler was never cancelled")
		}
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, 0, p.ActiveCount())
		assert.Equal(t, 1, p.AvailableSlots())
	})
}

func TestPool_ActiveCount(t *testing.T) {
	p := New(2)
	release := make(chan struct{})

	for i := 0; i < 2; i++ {
		_ = p.Submit(context.Background(), func(ctx context.Context) {
			<-release
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.ActiveCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("units never reached the executing state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, p.AvailableSlots())

	close(release)
}
