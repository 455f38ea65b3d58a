// Package task runs detached callables on a bounded worker pool. Each task
// executes against an isolated snapshot of the session, so the only way two
// tasks observe each other is through a shared cell or a channel.
package task

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/strand-lang/strand/value"
)

// DefaultWorkers bounds concurrent tasks when the session does not say
// otherwise.
const DefaultWorkers = 8

// Pool schedules detached work. The zero value is not usable; construct with
// NewPool.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{slots: make(chan struct{}, workers)}
}

// Go schedules run and returns its task handle immediately. The worker slot
// is acquired inside the goroutine, so Go never blocks the caller; a full
// pool only delays the start of the work. Cancelling resolves the future
// with value.ErrTaskCancelled if the body has not finished first.
func (p *Pool) Go(run func(ctx context.Context) (value.Value, error)) value.Task {
	fut, resolve := value.NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	t := value.NewTask(fut, func() {
		cancel()
		resolve(nil, value.ErrTaskCancelled)
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-ctx.Done():
			return
		}
		log.Trace().Str("task", t.ID.String()).Msg("task start")
		v, err := run(ctx)
		resolve(v, err)
		log.Trace().Str("task", t.ID.String()).Err(err).Msg("task done")
	}()
	return t
}

// Wait blocks until every scheduled task has finished or been cancelled.
// Sessions call it on shutdown so task output is not lost.
func (p *Pool) Wait() { p.wg.Wait() }
