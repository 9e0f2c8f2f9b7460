package txn

import "context"

// Job is a write handed off to the coordinator's writer goroutine.
type Job struct {
	// Label names the transaction.
	Label string

	// Apply runs inside the open transaction. Returning an error rolls
	// the transaction back.
	Apply func(ctx context.Context, tx *Tx) error

	// OnCommit, if set, runs after a commit that changed content, before
	// the next job starts. Used to record undo entries in order.
	OnCommit func(entry *Entry)

	// OnDone, if set, runs after every job, successful or not.
	OnDone func(res WriteResult)
}

// WriteResult is the outcome of a submitted Job. Entry is nil when the job
// failed or changed nothing.
type WriteResult struct {
	Entry *Entry
	Err   error
}

type work struct {
	job    *Job
	fn     func(ctx context.Context) error
	result chan WriteResult
	done   chan error
}

// Submit queues job for the writer goroutine and returns immediately.
// The returned channel receives exactly one result.
func (c *Coordinator) Submit(job Job) <-chan WriteResult {
	res := make(chan WriteResult, 1)
	if !c.work.Enqueue(work{job: &job, result: res}) {
		c.finish(&job, res, WriteResult{Err: closedError(job.Label)})
	}
	return res
}

// Schedule queues fn to run on the writer goroutine, ordered with submitted
// jobs. The returned channel receives fn's error.
func (c *Coordinator) Schedule(fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	if !c.work.Enqueue(work{fn: fn, done: done}) {
		done <- closedError("")
	}
	return done
}

// writeLoop performs queued work in order until Stop or cancellation, then
// closes the event queue so the dispatcher can drain and exit.
func (c *Coordinator) writeLoop(ctx context.Context) error {
	defer c.events.Close()
	for {
		if w, ok := c.work.TryDequeue(); ok {
			c.perform(ctx, w)
			continue
		}
		select {
		case <-ctx.Done():
			c.work.Close()
			c.drain()
			return ctx.Err()
		case _, open := <-c.work.Wait():
			if !open && c.work.Len() == 0 {
				return nil
			}
		}
	}
}

func (c *Coordinator) perform(ctx context.Context, w work) {
	if w.fn != nil {
		w.done <- w.fn(ctx)
		return
	}
	job := w.job

	tx, err := c.BeginWait(ctx, job.Label)
	if err != nil {
		c.finish(job, w.result, WriteResult{Err: err})
		return
	}
	if job.Apply != nil {
		if err := job.Apply(ctx, tx); err != nil {
			tx.Rollback()
			c.finish(job, w.result, WriteResult{Err: err})
			return
		}
	}
	entry, err := tx.Commit(ctx)
	if err != nil {
		c.finish(job, w.result, WriteResult{Err: err})
		return
	}
	if entry != nil && job.OnCommit != nil {
		job.OnCommit(entry)
	}
	c.finish(job, w.result, WriteResult{Entry: entry})
}

func (c *Coordinator) finish(job *Job, result chan WriteResult, res WriteResult) {
	if job.OnDone != nil {
		job.OnDone(res)
	}
	result <- res
}

// drain fails work left in the queue after cancellation.
func (c *Coordinator) drain() {
	for {
		w, ok := c.work.TryDequeue()
		if !ok {
			return
		}
		if w.fn != nil {
			w.done <- closedError("")
			continue
		}
		c.finish(w.job, w.result, WriteResult{Err: closedError(w.job.Label)})
	}
}

func closedError(label string) error {
	return &Error{Code: CodeClosed, Message: ErrClosed.Message, Label: label}
}
