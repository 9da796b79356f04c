// Package memoryqueue provides an in-process, channel-backed
// implementation of queue.Queue for tests and single-node development,
// grounded on the same channel+mutex shape as
// runtime/agent/engine/inmem's in-memory engine.
package memoryqueue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue"
)

// Queue is an in-memory, FIFO, at-most-one-dispatch job queue. Jobs are
// held only in process memory: a restart loses any undelivered job,
// which is acceptable for development use since Recovery re-enqueues
// PENDING runs from durable storage on startup anyway.
type Queue struct {
	ch       chan model.Job
	closed   atomic.Bool
	closeMu  sync.Mutex
	nextSeq  atomic.Int64
}

var _ queue.Queue = (*Queue)(nil)

// New constructs a Queue with the given buffer capacity. A capacity of 0
// makes Enqueue block until a worker is ready to Dequeue.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan model.Job, capacity)}
}

func (q *Queue) Enqueue(ctx context.Context, job model.Job) (string, error) {
	if q.closed.Load() {
		return "", queue.ErrClosed
	}
	handle := strconv.FormatInt(q.nextSeq.Add(1), 10)
	select {
	case q.ch <- job:
		return handle, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case job, ok := <-q.ch:
		if !ok {
			return queue.Delivery{}, queue.ErrClosed
		}
		return queue.Delivery{
			Job:  job,
			Ack:  func(context.Context) error { return nil },
			Nack: func(context.Context, error) error { return nil },
		}, nil
	case <-ctx.Done():
		return queue.Delivery{}, ctx.Err()
	}
}

func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
	return nil
}
