package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Processor interface {
	Process(ctx context.Context, callID string) (Outcome, error)
}

// Queue feeds call ids to a fixed pool of workers. An id that is already
// queued or being processed is not accepted again.
type Queue struct {
	Processor Processor
	Logger    zerolog.Logger

	jobs     chan string
	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewQueue(p Processor, workers, size int, logger zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if size <= 0 {
		size = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		Processor: p,
		Logger:    logger,
		jobs:      make(chan string, size),
		inflight:  map[string]struct{}{},
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue schedules ids and returns how many were accepted. Duplicates and
// ids that do not fit in the buffer are dropped; they stay pending in the
// database and the next batch picks them up.
func (q *Queue) Enqueue(ids []string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	accepted := 0
	for _, id := range ids {
		if _, ok := q.inflight[id]; ok {
			continue
		}
		select {
		case q.jobs <- id:
			q.inflight[id] = struct{}{}
			accepted++
		default:
			q.Logger.Warn().Str("call_id", id).Msg("analysis queue full, call left pending")
		}
	}
	return accepted
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *Queue) work() {
	defer q.wg.Done()
	for id := range q.jobs {
		if _, err := q.Processor.Process(q.ctx, id); err != nil {
			q.Logger.Debug().Err(err).Str("call_id", id).Msg("call processing ended with error")
		}
		q.mu.Lock()
		delete(q.inflight, id)
		q.mu.Unlock()
	}
}

// Close stops accepting work and waits for queued calls to finish. When ctx
// expires first, running calls are cancelled and ctx's error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
