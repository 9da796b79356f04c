// Package queue defines the durable work queue that carries RUN and
// SANDBOX_OP jobs between the Planner/Sandbox Manager (producers) and the
// Supervisor worker pool (consumers). Implementations guarantee
// at-most-one dispatch per job. mongoqueue never blocks producers on
// submission; memoryqueue blocks Enqueue while its buffer is full.
package queue

import (
	"context"
	"errors"

	"goa.design/toolrun/internal/model"
)

// ErrClosed is returned by Dequeue once the queue has been shut down and
// drained.
var ErrClosed = errors.New("queue closed")

// Queue is a durable FIFO work queue. Implementations may back onto an
// in-process channel (development, tests) or a persistent store (mongo),
// but must preserve exactly-one-claim-per-job semantics across restarts.
type Queue interface {
	// Enqueue records job and makes it available to exactly one future
	// Dequeue call. It returns a backend-specific handle that callers may
	// persist for diagnostics (Run.queue_job_handle). mongoqueue stores
	// the job durably and never waits for a consumer; memoryqueue keeps
	// it in process memory only and blocks while its buffer is full
	// (always, with capacity 0) until a worker dequeues or ctx is done.
	Enqueue(ctx context.Context, job model.Job) (handle string, err error)

	// Dequeue blocks until a job is available or ctx is cancelled. The
	// returned Delivery should be acknowledged (Ack) or abandoned (Nack)
	// by the caller. A dequeued job is never offered to another worker:
	// neither implementation expires a claim.
	Dequeue(ctx context.Context) (Delivery, error)

	// Close makes later Enqueue calls return ErrClosed and releases
	// backend resources. Dequeue keeps delivering jobs already queued and
	// returns ErrClosed once none remain.
	Close() error
}

// Delivery wraps one dequeued Job together with its acknowledgement
// callbacks.
type Delivery struct {
	Job model.Job

	// Ack marks the job as successfully handled; it will never be
	// redelivered.
	Ack func(ctx context.Context) error

	// Nack abandons the job. Per spec §4.C, jobs are non-retrying by
	// default: callers that fail to process a job mark the underlying
	// Run/Tool FAILED themselves and Nack only to release backend
	// bookkeeping, not to trigger a redelivery.
	Nack func(ctx context.Context, reason error) error
}
