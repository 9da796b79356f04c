// Package mongo provides a MongoDB-backed implementation of
// runstore.Store, grounded on features/run/mongo/clients/mongo/client.go's
// upsert-by-filter pattern and collections.go's cursor handling.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/runstore"
)

// Store is a MongoDB implementation of runstore.Store.
type Store struct {
	collection *mongo.Collection
	timeout    time.Duration
}

var _ runstore.Store = (*Store)(nil)

const defaultTimeout = 5 * time.Second

// New creates a Store using the provided collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection, timeout: defaultTimeout}
}

// EnsureIndexes creates the indexes Recovery and mass-cancellation rely on
// (status lookups, owner+status lookups).
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Create(ctx context.Context, run *model.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.collection.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("mongodb create run %q: %w", run.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var r model.Run
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Run{}, runstore.ErrNotFound
		}
		return model.Run{}, fmt.Errorf("mongodb get run %q: %w", id, err)
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, run *model.Run) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": run.ID}, run, opts)
	if err != nil {
		return fmt.Errorf("mongodb update run %q: %w", run.ID, err)
	}
	return nil
}

func (s *Store) AppendStdout(ctx context.Context, id string, line string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	// Mongo has no native "append with separator" operator, so the
	// separator is folded into the pushed value: a single aggregation
	// pipeline update keeps this to one round trip (spec: "single-row
	// update per line is acceptable").
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{{Key: "stdout", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$stdout", ""}}}, ""}}},
			line,
			bson.D{{Key: "$concat", Value: bson.A{"$stdout", "\n", line}}},
		}}}}}}},
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, pipeline)
	if err != nil {
		return fmt.Errorf("mongodb append stdout %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return runstore.ErrNotFound
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.collection.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, fmt.Errorf("mongodb list runs by status: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.Run
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb list runs by status decode: %w", err)
	}
	return out, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, statuses []model.RunStatus) ([]model.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.collection.Find(ctx, bson.M{"owner_id": ownerID, "status": bson.M{"$in": statuses}})
	if err != nil {
		return nil, fmt.Errorf("mongodb list runs by owner: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.Run
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb list runs by owner decode: %w", err)
	}
	return out, nil
}
