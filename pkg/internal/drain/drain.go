// Package drain waits for tracked in-flight work with a deadline.
package drain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/durable-kernel/pkg/core"
)

// Group tracks running work. The zero value is ready to use.
type Group struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

// Add records delta units of work, like sync.WaitGroup.Add.
func (g *Group) Add(delta int) {
	g.running.Add(int64(delta))
	g.wg.Add(delta)
}

// Done marks one unit of work finished.
func (g *Group) Done() {
	g.running.Add(-1)
	g.wg.Done()
}

// Running reports how many units are still in flight.
func (g *Group) Running() int {
	return int(g.running.Load())
}

// Wait blocks until all work finishes, ctx is done, or timeout elapses.
// It returns core.ErrDrainTimeout when work is still running at the deadline.
// A non-positive timeout does not wait: it returns core.ErrDrainTimeout at
// once unless nothing is running.
func (g *Group) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		if g.Running() > 0 {
			return core.ErrDrainTimeout
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return nil
	case <-t.C:
		return core.ErrDrainTimeout
	case <-ctx.Done():
		return core.ErrDrainTimeout
	}
}
