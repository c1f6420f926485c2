package sched

import (
	"context"
	"time"

	"github.com/joeycumines/go-microbatch"
)

// Coalescer folds many independent Submit calls into fewer SubmitBatch
// calls, grounded on the go-microbatch Batcher (microbatch/microbatch.go
// in the teacher corpus): producers calling Submit pay only the cost of
// handing a task to the batcher, and a single background goroutine
// periodically flushes whatever accumulated into one SubmitBatch call,
// so a burst of unrelated submitters shares one lock acquisition and one
// Tickle wake-up instead of paying for their own.
//
// Unlike SubmitBatch, which is for a caller that already holds a complete
// batch it wants enqueued atomically, Coalescer is for many independent
// callers who don't know about each other but whose submissions are cheap
// to group after the fact — netpoll's per-expired-timer callback
// submissions are the prototypical case.
type Coalescer struct {
	batcher *microbatch.Batcher[Task]
}

// NewCoalescer constructs a Coalescer that flushes into s.SubmitBatch once
// it has accumulated maxBatch tasks, or flushEvery has elapsed since the
// first task in the pending batch arrived, whichever comes first.
func NewCoalescer(s *Scheduler, maxBatch int, flushEvery time.Duration) *Coalescer {
	c := &Coalescer{}
	c.batcher = microbatch.NewBatcher[Task](&microbatch.BatcherConfig{
		MaxSize:        maxBatch,
		FlushInterval:  flushEvery,
		MaxConcurrency: 1,
	}, func(_ context.Context, jobs []Task) error {
		s.SubmitBatch(jobs)
		return nil
	})
	return c
}

// Submit hands t to the batcher, returning once it has been accepted into
// a pending batch. It does not wait for the batch to actually run — same
// as Scheduler.Submit, this is fire-and-forget from the caller's
// perspective. An error is returned only if ctx is done or the Coalescer
// has been closed.
func (c *Coalescer) Submit(ctx context.Context, t Task) error {
	_, err := c.batcher.Submit(ctx, t)
	return err
}

// Close stops accepting new tasks and blocks until every task already
// accepted has been flushed to SubmitBatch — using Shutdown rather than
// the batcher's Close, since Close discards whatever batch is still
// pending instead of flushing it.
func (c *Coalescer) Close() error {
	return c.batcher.Shutdown(context.Background())
}
