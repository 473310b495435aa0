// Package keyqueue runs jobs in FIFO order per key, with different keys
// processed concurrently up to a global worker limit.
package keyqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("queue closed")

type Job func(ctx context.Context)

type Queue struct {
	ctx   context.Context
	sem   chan struct{}
	log   *slog.Logger
	wg    sync.WaitGroup
	mu    sync.Mutex
	lanes map[string][]Job

	closed bool
}

// New creates a queue whose jobs run with ctx. Cancelling ctx drops jobs
// that have not started yet.
func New(ctx context.Context, workers int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ctx:   ctx,
		sem:   make(chan struct{}, workers),
		log:   logger,
		lanes: make(map[string][]Job),
	}
}

// Submit appends job to the lane for key.
func (q *Queue) Submit(key string, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	lane, active := q.lanes[key]
	q.lanes[key] = append(lane, job)
	if !active {
		q.wg.Add(1)
		go q.runLane(key)
	}
	return nil
}

func (q *Queue) runLane(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		lane := q.lanes[key]
		if len(lane) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		job := lane[0]
		q.lanes[key] = lane[1:]
		q.mu.Unlock()

		select {
		case q.sem <- struct{}{}:
		case <-q.ctx.Done():
			q.mu.Lock()
			dropped := len(q.lanes[key]) + 1
			delete(q.lanes, key)
			q.mu.Unlock()
			q.log.Info("queue stopped, dropping pending jobs", "key", key, "jobs", dropped)
			return
		}
		q.run(key, job)
		<-q.sem
	}
}

func (q *Queue) run(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue job panicked", "key", key, "panic", fmt.Sprint(r))
		}
	}()
	job(q.ctx)
}

// Pending reports the number of jobs not yet started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// Wait blocks until every submitted job has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops accepting jobs and waits for the running lanes to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
