// Package shutdown implements the drain barrier described in §4.3,
// grounded on the job scheduler this runtime descends from's
// signal.NotifyContext + context.WithTimeout shutdown sequence in its
// main.go, generalized into a reusable type with an in-flight counter.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDraining is returned by Admit once drain has been requested; callers
// must refuse the new work (RPC, job claim, cron trigger) it guards.
var ErrDraining = errors.New("node is draining")

// Barrier guards admission of new work during shutdown and tracks
// in-flight operations so shutdown can wait for them to finish.
type Barrier struct {
	draining atomic.Bool
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

func New() *Barrier {
	return &Barrier{}
}

// Draining reports whether new work is currently refused.
func (b *Barrier) Draining() bool {
	return b.draining.Load()
}

// Admit acquires an in-flight token for one operation, or returns
// ErrDraining if the barrier has begun draining. Callers must call the
// returned release func exactly once.
func (b *Barrier) Admit() (release func(), err error) {
	if b.draining.Load() {
		return nil, ErrDraining
	}
	b.inFlight.Add(1)
	b.wg.Add(1)
	released := false
	return func() {
		if released {
			return
		}
		released = true
		b.inFlight.Add(-1)
		b.wg.Done()
	}, nil
}

// InFlight returns the current count of admitted, not-yet-released
// operations.
func (b *Barrier) InFlight() int64 {
	return b.inFlight.Load()
}

// Drain sets the draining flag and blocks until either in-flight work
// reaches zero or timeout elapses. It returns true if the drain completed
// cleanly (count reached zero).
func (b *Barrier) Drain(ctx context.Context, timeout time.Duration) bool {
	b.draining.Store(true)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}
