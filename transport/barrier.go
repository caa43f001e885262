package transport

import (
	"context"
	"sync"
)

// epochBarrier is a reusable counting barrier: n callers must all call
// wait before any of them return, and the barrier immediately resets for
// the next epoch so it can be called again.
type epochBarrier struct {
	n int

	mu      sync.Mutex
	count   int
	epoch   int
	release chan struct{}
}

func newEpochBarrier(n int) *epochBarrier {
	return &epochBarrier{n: n, release: make(chan struct{})}
}

func (b *epochBarrier) wait(ctx context.Context) error {
	b.mu.Lock()
	b.count++
	if b.count == b.n {
		ch := b.release
		b.count = 0
		b.epoch++
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(ch)
		return nil
	}
	ch := b.release
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
