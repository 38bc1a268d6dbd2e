package core

import (
	"context"
	"sync"
	"time"
)

// taskRunner executes background work with bounded concurrency. Ingestion
// hands enrichment and fan-out to the runner and returns immediately;
// completion is observable only through the store.
type taskRunner struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
}

func newTaskRunner(concurrency int, timeout time.Duration) *taskRunner {
	if concurrency <= 0 {
		concurrency = 8
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &taskRunner{
		sem:     make(chan struct{}, concurrency),
		timeout: timeout,
	}
}

// Go runs fn on a fresh deadline detached from the request context, so a
// finished HTTP request cannot cancel in-flight enrichment.
func (r *taskRunner) Go(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every queued task finished. Shutdown and tests only.
func (r *taskRunner) Wait() {
	r.wg.Wait()
}
