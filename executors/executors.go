// Package executors defines the pluggable execution strategy used by
// concurrent plan runs, plus the implementations shipped with the engine.
//
// An Executor receives one batch of ready work items at a time. It must
// return only after every accepted item has either completed or failed (or
// was abandoned because a sibling failed), and it must surface the first
// failure to the caller. How much of the batch runs in parallel is entirely
// the executor's business: strictly sequential, bounded goroutine groups,
// shared pools and fixed worker sets are all valid strategies and yield
// identical results.
package executors

import (
	"context"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
)

// Work is a single ready task wrapped for dispatch.
type Work func(ctx context.Context) error

// Executor runs one batch of ready work items.
type Executor interface {
	Execute(ctx context.Context, batch []Work) error
}

// Sync executes every item of the batch in order on the calling goroutine,
// stopping at the first failure.
type Sync struct{}

// Execute implements Executor.
func (Sync) Execute(ctx context.Context, batch []Work) error {
	for _, w := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Group executes the batch on an errgroup, one goroutine per item, with an
// optional concurrency limit. The first failure cancels the group context;
// items that have not started observe the cancellation and are abandoned.
type Group struct {
	// Limit bounds the number of concurrently running items. Zero or
	// negative means no bound.
	Limit int
}

// Execute implements Executor.
func (g Group) Execute(ctx context.Context, batch []Work) error {
	eg, gctx := errgroup.WithContext(ctx)
	if g.Limit > 0 {
		eg.SetLimit(g.Limit)
	}
	for _, w := range batch {
		w := w
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return w(gctx)
		})
	}
	return eg.Wait()
}

// Pool executes the batch on a conc context pool that cancels outstanding
// items when one fails.
type Pool struct {
	// MaxGoroutines bounds the pool size. Zero or negative means the conc
	// default (unbounded).
	MaxGoroutines int
}

// Execute implements Executor.
func (p Pool) Execute(ctx context.Context, batch []Work) error {
	base := pool.New()
	if p.MaxGoroutines > 0 {
		base = base.WithMaxGoroutines(p.MaxGoroutines)
	}
	cp := base.WithErrors().WithContext(ctx).WithCancelOnError()
	for _, w := range batch {
		w := w
		cp.Go(func(pctx context.Context) error {
			return w(pctx)
		})
	}
	return cp.Wait()
}

// Workers executes batches on a fixed set of channel-fed workers. A failing
// item cancels the shared context; workers drain the remaining items without
// running them.
type Workers struct {
	// Count is the number of workers. Zero or negative means GOMAXPROCS.
	Count int
}

// Execute implements Executor.
func (w Workers) Execute(ctx context.Context, batch []Work) error {
	count := w.Count
	if count <= 0 {
		count = runtime.GOMAXPROCS(0)
	}
	if count > len(batch) {
		count = len(batch)
	}
	if count == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	items := make(chan Work)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				if runCtx.Err() != nil {
					continue
				}
				if err := item(runCtx); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
				}
			}
		}()
	}
	for _, item := range batch {
		items <- item
	}
	close(items)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
