// Package mongoqueue provides a MongoDB-backed implementation of
// queue.Queue: jobs are documents claimed via an atomic
// FindOneAndUpdate, so at most one worker (in this process or another)
// ever receives a given job. Grounded on the claim-by-update pattern in
// features/run/mongo/clients/mongo/client.go and the index/cursor
// conventions of internal/runstore/mongo. Plays the role the original
// system filled with a NATS-backed Taskiq broker plus a Redis result
// backend: a plain at-most-once message queue, not a durable workflow
// engine, matching the single-subprocess-dispatch granularity of a Run.
package mongoqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue"
)

// document is the durable envelope stored per job.
type document struct {
	ID        bson.ObjectID `bson:"_id"`
	Job       model.Job     `bson:"job"`
	ClaimedAt *time.Time    `bson:"claimed_at,omitempty"`
	ClaimedBy string        `bson:"claimed_by,omitempty"`
	CreatedAt time.Time     `bson:"created_at"`
}

// Queue is a MongoDB-backed durable queue. pollInterval (250ms by
// default) controls how often Dequeue retries claiming when no job is
// immediately available.
type Queue struct {
	collection   *mongo.Collection
	workerID     string
	pollInterval time.Duration
	closed       chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

const defaultPollInterval = 250 * time.Millisecond

// New constructs a Queue using the provided collection. workerID
// identifies this process in claimed_by for diagnostics.
func New(collection *mongo.Collection, workerID string) *Queue {
	return &Queue{
		collection:   collection,
		workerID:     workerID,
		pollInterval: defaultPollInterval,
		closed:       make(chan struct{}),
	}
}

// EnsureIndexes creates the index claim queries rely on.
func (q *Queue) EnsureIndexes(ctx context.Context) error {
	_, err := q.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "claimed_at", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

func (q *Queue) Enqueue(_ context.Context, job model.Job) (string, error) {
	select {
	case <-q.closed:
		return "", queue.ErrClosed
	default:
	}
	doc := document{ID: bson.NewObjectID(), Job: job, CreatedAt: time.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.collection.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("mongodb enqueue job: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		doc, err := q.claimOne(ctx)
		if err != nil {
			return queue.Delivery{}, err
		}
		if doc != nil {
			id := doc.ID
			return queue.Delivery{
				Job: doc.Job,
				Ack: func(ackCtx context.Context) error {
					_, err := q.collection.DeleteOne(ackCtx, bson.M{"_id": id})
					return err
				},
				Nack: func(nackCtx context.Context, _ error) error {
					_, err := q.collection.DeleteOne(nackCtx, bson.M{"_id": id})
					return err
				},
			}, nil
		}
		select {
		case <-q.closed:
			return queue.Delivery{}, queue.ErrClosed
		case <-ctx.Done():
			return queue.Delivery{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) claimOne(ctx context.Context) (*document, error) {
	now := time.Now()
	filter := bson.M{"claimed_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"claimed_at": now, "claimed_by": q.workerID}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)
	var doc document
	err := q.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongodb claim job: %w", err)
	}
	return &doc, nil
}

func (q *Queue) Close() error {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
	return nil
}
