package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayops/agent-runtime/internal/errval"
)

// cancelGracePeriod is the extra wait after forced cancellation during
// shutdown, so cancellation has a chance to propagate.
const cancelGracePeriod = 2 * time.Second

type handle struct {
	cancel context.CancelFunc
}

// WorkerPool bounds the number of concurrently executing work units with a
// counting permit mechanism. Submission starts a unit immediately; the unit
// waits at the permit barrier until a slot is free.
type WorkerPool struct {
	permits  chan struct{}
	capacity int

	mu     sync.Mutex
	active map[uint64]*handle
	nextID uint64
	closed bool

	running  atomic.Int64
	inflight atomic.Int64
	wg       sync.WaitGroup
}

func New(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return &WorkerPool{
		permits:  make(chan struct{}, maxWorkers),
		capacity: maxWorkers,
		active:   make(map[uint64]*handle),
	}
}

// Submit begins the work unit unless shutdown has begun, in which case it
// fails fast with errval.ErrPoolClosed. The unit's handle self-removes from
// the active set on completion.
func (p *WorkerPool) Submit(ctx context.Context, run func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errval.ErrPoolClosed
	}

	p.nextID++
	id := p.nextID
	wctx, cancel := context.WithCancel(ctx)
	p.active[id] = &handle{cancel: cancel}
	p.inflight.Add(1)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.inflight.Add(-1)
		defer cancel()
		defer func() {
			p.mu.Lock()
			delete(p.active, id)
			p.mu.Unlock()
		}()

		select {
		case p.permits <- struct{}{}:
		case <-wctx.Done():
			return
		}
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			<-p.permits
		}()

		run(wctx)
	}()

	return nil
}

// WaitSlot blocks until the pool can admit another unit without queueing it
// behind the permit barrier, or until ctx is done.
func (p *WorkerPool) WaitSlot(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if int(p.inflight.Load()) < p.capacity {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ActiveCount returns the number of units currently executing past the permit
// barrier. Never exceeds the pool capacity.
func (p *WorkerPool) ActiveCount() int {
	return int(p.running.Load())
}

// AvailableSlots returns how many more units the pool can admit right now.
func (p *WorkerPool) AvailableSlots() int {
	free := p.capacity - int(p.inflight.Load())
	if free < 0 {
		free = 0
	}
	return free
}

// Shutdown stops accepting submissions, waits up to timeout for active units
// to finish naturally, cancels any still running, waits a short grace period
// for cancellation to propagate, then clears the active set unconditionally.
// It always returns, even if some units never honor cancellation.
func (p *WorkerPool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.mu.Lock()
		stragglers := len(p.active)
		for _, h := range p.active {
			h.cancel()
		}
		p.mu.Unlock()
		slog.Warn("Worker pool shutdown timed out, cancelling remaining units", "count", stragglers)

		select {
		case <-done:
		case <-time.After(cancelGracePeriod):
			slog.Error("Some work units did not honor cancellation within the grace period")
		}
	}

	p.mu.Lock()
	p.active = make(map[uint64]*handle)
	p.mu.Unlock()
	p.running.Store(0)
	p.inflight.Store(0)
}
