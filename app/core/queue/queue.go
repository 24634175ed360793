package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"moim/app/pkg/logger"
)

var (
	ErrStarted = errors.New("queue: already started")
	ErrStopped = errors.New("queue: stopped")
	ErrFull    = errors.New("queue: full")
)

// Queue serializes event handling. Chat events for one bot must not
// interleave, so the dispatcher runs everything through one worker.
type Queue struct {
	mu       sync.Mutex
	jobs     chan func(context.Context)
	started  bool
	stopping bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	enqueued  atomic.Uint64
	completed atomic.Uint64
	dropped   atomic.Uint64
}

type Stats struct {
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Dropped   uint64 `json:"dropped"`
}

func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{jobs: make(chan func(context.Context), buffer)}
}

// Enqueue never blocks the caller; a full queue drops the event and
// reports ErrFull.
func (q *Queue) Enqueue(job func(context.Context)) error {
	if job == nil {
		return errors.New("queue: nil job")
	}
	q.mu.Lock()
	stopping := q.stopping
	q.mu.Unlock()
	if stopping {
		return ErrStopped
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return ErrFull
	}
}

func (q *Queue) Start(parent context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.started = true
	q.stopping = false
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return nil
}

// Stop drains pending jobs, then cancels the workers. A zero timeout
// waits indefinitely.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.cancel = nil
	q.started = false
	q.stopping = true
	q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(q.jobs) > 0 {
		if timeout > 0 && time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()
	if timeout <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.New("queue: stop timeout")
		}
	}

	q.mu.Lock()
	q.stopping = false
	q.mu.Unlock()
	return nil
}

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.run(ctx, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Queue] handler panic: %v", r)
		}
	}()
	job(ctx)
	q.completed.Add(1)
}
