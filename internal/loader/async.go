package loader

import (
	"context"

	"github.com/roach88/pentimento/internal/model"
)

// Future is the pending result of an asynchronous batch write.
type Future struct {
	ch chan outcome
}

type outcome struct {
	result *model.WriteResult
	err    error
}

// Wait blocks until the write finishes or ctx expires. A failed write
// resolves as the write's error; an expired ctx as the ctx error. Wait may
// be called once.
func (f *Future) Wait(ctx context.Context) (*model.WriteResult, error) {
	select {
	case out := <-f.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AsyncWriteMany is WriteMany without blocking the caller: the batch is
// dispatched to a bounded worker pool and the returned future completes
// when the store round trip does. Admission to the pool happens inside the
// worker, so even a saturated pool never blocks the calling goroutine.
func (c *Coordinator) AsyncWriteMany(ctx context.Context, docs []model.Document, strategy model.UpdateStrategy, post PostWriteTrigger) *Future {
	f := &Future{ch: make(chan outcome, 1)}
	go func() {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			f.ch <- outcome{err: err}
			return
		}
		defer c.sem.Release(1)

		result, err := c.WriteMany(ctx, docs, strategy, post)
		f.ch <- outcome{result: result, err: err}
	}()
	return f
}
