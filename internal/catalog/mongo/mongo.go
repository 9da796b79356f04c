// Package mongo provides a MongoDB-backed implementation of catalog.Store,
// grounded on the teacher's registry/store/mongo layering: one document per
// entity keyed by its opaque ID, InsertOne on Create and a non-upserting
// ReplaceOne on Update, and
// regex-based case-insensitive search over name/description/tags.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/toolrun/internal/catalog"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/toolerr"
)

// Store is a MongoDB implementation of catalog.Store.
type Store struct {
	collection *mongo.Collection
}

var _ catalog.Store = (*Store)(nil)

// New creates a Store using the provided collection. Callers are
// responsible for connecting the underlying client and should ensure a
// unique index on "name_lower" exists (see EnsureIndexes).
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// EnsureIndexes creates the unique case-insensitive name index. Call once
// at startup; safe to call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name_lower", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Store) Create(ctx context.Context, tool *model.Tool) error {
	if err := catalog.Validate(tool); err != nil {
		return err
	}
	now := time.Now()
	tool.CreatedAt, tool.UpdatedAt = now, now
	if tool.Status == "" {
		tool.Status = model.ToolUninstalled
	}
	if _, err := s.collection.InsertOne(ctx, tool); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("tool name %q already exists", tool.Name)
		}
		return fmt.Errorf("mongodb create tool %q: %w", tool.Name, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, tool *model.Tool) error {
	if err := catalog.Validate(tool); err != nil {
		return err
	}
	existing, err := s.Get(ctx, tool.ID)
	if err != nil {
		return err
	}
	tool.CreatedAt = existing.CreatedAt
	tool.Status = existing.Status
	tool.PinnedManifest = existing.PinnedManifest
	tool.RunCount = existing.RunCount
	tool.UpdatedAt = time.Now()
	opts := options.Replace().SetUpsert(false)
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": tool.ID}, tool, opts)
	if err != nil {
		return fmt.Errorf("mongodb update tool %q: %w", tool.ID, err)
	}
	if res.MatchedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Tool, error) {
	var t model.Tool
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Tool{}, catalog.ErrNotFound
		}
		return model.Tool{}, fmt.Errorf("mongodb get tool %q: %w", id, err)
	}
	return t, nil
}

func (s *Store) GetByName(ctx context.Context, name string) (model.Tool, error) {
	var t model.Tool
	err := s.collection.FindOne(ctx, bson.M{"name_lower": strings.ToLower(name)}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Tool{}, catalog.ErrNotFound
		}
		return model.Tool{}, fmt.Errorf("mongodb get tool by name %q: %w", name, err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == model.ToolInstalling || existing.Status == model.ToolUninstalling {
		return toolerr.Errorf(toolerr.Forbidden, "tool %q has a sandbox transition in flight", existing.Name)
	}
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete tool %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, tags []string) ([]model.Tool, error) {
	filter := bson.M{}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$all": tags}
	}
	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb list tools: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.Tool
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb list tools decode: %w", err)
	}
	return out, nil
}

func (s *Store) Search(ctx context.Context, query string) ([]model.Tool, error) {
	regex := bson.M{"$regex": escapeRegex(query), "$options": "i"}
	filter := bson.M{"$or": []bson.M{
		{"name": regex},
		{"description": regex},
		{"tags": regex},
	}}
	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb search tools: %w", err)
	}
	defer cur.Close(ctx)
	var out []model.Tool
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb search tools decode: %w", err)
	}
	return out, nil
}

func (s *Store) SetSandboxStatus(ctx context.Context, id string, status model.ToolStatus, installationLog string) error {
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}}
	if installationLog != "" {
		update["$set"].(bson.M)["installation_log"] = installationLog
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongodb set sandbox status %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) SetPinnedManifest(ctx context.Context, id string, manifest string) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"pinned_manifest": manifest, "updated_at": time.Now()}})
	if err != nil {
		return fmt.Errorf("mongodb set pinned manifest %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementRunCount(ctx context.Context, id string) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"run_count": 1}})
	if err != nil {
		return fmt.Errorf("mongodb increment run count %q: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// escapeRegex escapes special regex characters for safe use in MongoDB
// regex queries.
func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, ch := range special {
		result = strings.ReplaceAll(result, ch, "\\"+ch)
	}
	return result
}
