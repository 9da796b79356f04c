// Package mongo provides a MongoDB-backed implementation of
// filestore.Store, following the same collection-per-entity layering as
// internal/catalog/mongo and internal/runstore/mongo.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"goa.design/toolrun/internal/filestore"
	"goa.design/toolrun/internal/model"
)

// Store is a MongoDB implementation of filestore.Store.
type Store struct {
	collection *mongo.Collection
}

var _ filestore.Store = (*Store)(nil)

// New creates a Store using the provided collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

func (s *Store) Create(ctx context.Context, f *model.File) error {
	if _, err := s.collection.InsertOne(ctx, f); err != nil {
		return fmt.Errorf("mongodb create file %q: %w", f.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.File, error) {
	var f model.File
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.File{}, filestore.ErrNotFound
		}
		return model.File{}, fmt.Errorf("mongodb get file %q: %w", id, err)
	}
	return f, nil
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]model.File, error) {
	cur, err := s.collection.Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return nil, fmt.Errorf("mongodb list files by run: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.File
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb list files by run decode: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteUnsavedByRun(ctx context.Context, runID string) ([]model.File, error) {
	filter := bson.M{"run_id": runID, "saved": false}
	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb find unsaved files: %w", err)
	}
	var removed []model.File
	if err := cur.All(ctx, &removed); err != nil {
		cur.Close(ctx)
		return nil, fmt.Errorf("mongodb find unsaved files decode: %w", err)
	}
	cur.Close(ctx)
	if _, err := s.collection.DeleteMany(ctx, filter); err != nil {
		return nil, fmt.Errorf("mongodb delete unsaved files: %w", err)
	}
	return removed, nil
}

func (s *Store) DetachSavedByRun(ctx context.Context, runID string) error {
	_, err := s.collection.UpdateMany(ctx,
		bson.M{"run_id": runID, "saved": true},
		bson.M{"$unset": bson.M{"run_id": ""}})
	if err != nil {
		return fmt.Errorf("mongodb detach saved files: %w", err)
	}
	return nil
}
