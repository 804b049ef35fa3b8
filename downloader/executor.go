package downloader

import "context"

// Executor schedules completion and progress callbacks off the
// runner's goroutine.
type Executor func(fn func())

// serialExecutor runs callbacks one at a time in submission order, so
// subscribers observe completions in subscription order.
type serialExecutor struct {
	jobs chan func()
}

func newSerialExecutor(ctx context.Context) *serialExecutor {
	e := &serialExecutor{jobs: make(chan func(), 256)}

	go func() {
		for {
			select {
			case fn := <-e.jobs:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()

	return e
}

func (e *serialExecutor) execute(fn func()) {
	e.jobs <- fn
}
