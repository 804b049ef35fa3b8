package image

import (
	"context"
	"errors"
	"runtime"
)

// ErrQueueFull is returned by Process when the decode queue is at
// capacity and can't accept more jobs.
var ErrQueueFull = errors.New("decode queue is full")

// Queue is a decode queue with a fixed amount of workers. Decoders of
// common image formats aren't assumed thread-safe, so all decoding
// funnels through these workers.
type Queue struct {
	workers int
	queue   chan job
	handler func(context.Context, []byte) (*Image, error)
	ctx     context.Context
}

type job struct {
	data    []byte
	result  chan jobResult
	context context.Context
}

type jobResult struct {
	image *Image
	err   error
}

// NewQueue creates a new Queue with the specified amount of workers.
func NewQueue(ctx context.Context, workers int, handler func(context.Context, []byte) (*Image, error)) *Queue {
	if workers < 1 {
		workers = 1
	}

	return &Queue{
		workers: workers,
		queue:   make(chan job, workers*4),
		handler: handler,
		ctx:     ctx,
	}
}

// Run starts the queue and blocks until it's shut down.
func (q *Queue) Run() {
	for i := 0; i < q.workers; i++ {
		go q.worker()
	}

	<-q.ctx.Done()
	close(q.queue)
}

func (q *Queue) worker() {
	// Lock the thread so decode work isn't moved between threads;
	// we won't unlock since it's uncertain how the codecs would react
	runtime.LockOSThread()

	for {
		select {
		case job, open := <-q.queue:
			if !open {
				return
			}

			// Check if the job context was cancelled before decoding
			if job.context.Err() != nil {
				job.result <- jobResult{image: nil, err: job.context.Err()}
				continue
			}

			img, err := q.handler(job.context, job.data)
			job.result <- jobResult{image: img, err: err}

		case <-q.ctx.Done():
			return
		}
	}
}

// Process adds a decode job to the queue, waits for it, and returns
// the decoded image. Returns ErrQueueFull when the queue can't accept
// the job without blocking behind more than a full backlog.
func (q *Queue) Process(ctx context.Context, data []byte) (*Image, error) {
	if q.ctx.Err() != nil {
		return nil, errors.New("decode queue has been shut down")
	}

	resultChan := make(chan jobResult, 1)

	select {
	case q.queue <- job{
		data:    data,
		result:  resultChan,
		context: ctx,
	}:
	case <-q.ctx.Done():
		return nil, errors.New("decode queue has been shut down")
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, ErrQueueFull
	}

	select {
	case result := <-resultChan:
		if result.err != nil {
			return nil, result.err
		}

		return result.image, nil
	case <-ctx.Done():
		// Context cancelled - the worker may still be decoding,
		// but we can return early rather than wait it out
		return nil, ctx.Err()
	}
}
