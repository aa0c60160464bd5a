package services

import (
	"context"
	"errors"
	"fmt"

	"taskloom/internal/database"
	"taskloom/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoKnowledgeStore reads projects and knowledge items from MongoDB
type MongoKnowledgeStore struct {
	projects *mongo.Collection
	items    *mongo.Collection
}

// NewMongoKnowledgeStore creates a knowledge store over MongoDB
func NewMongoKnowledgeStore(db *database.MongoDB) *MongoKnowledgeStore {
	return &MongoKnowledgeStore{
		projects: db.Collection(database.CollectionProjects),
		items:    db.Collection(database.CollectionKnowledgeItems),
	}
}

type projectDoc struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type kindStatusCount struct {
	ID struct {
		Kind   models.KnowledgeKind `bson:"kind"`
		Status models.ItemStatus    `bson:"status"`
	} `bson:"_id"`
	Count int `bson:"count"`
}

// GetProject returns the project header with counts aggregated from its items
func (s *MongoKnowledgeStore) GetProject(ctx context.Context, projectID string) (*models.ProjectMeta, error) {
	var doc projectDoc
	err := s.projects.FindOne(ctx, bson.M{"_id": projectID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"projectId": projectID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"kind": "$kind", "status": "$status"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cursor, err := s.items.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate project items: %w", err)
	}
	defer cursor.Close(ctx)

	var counts []kindStatusCount
	if err := cursor.All(ctx, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode project counts: %w", err)
	}

	meta := &models.ProjectMeta{ID: doc.ID, Name: doc.Name}
	for _, c := range counts {
		switch c.ID.Kind.Category() {
		case models.CategoryTask:
			meta.TaskTotal += c.Count
			if c.ID.Status.IsActive() {
				meta.TaskActive += c.Count
			}
			if c.ID.Status == models.StatusDone {
				meta.TaskCompleted += c.Count
			}
		case models.CategoryCapturedKnowledge:
			meta.KnowledgeCount += c.Count
		}
	}
	return meta, nil
}

// ListCandidateItems returns the project's items of the given kinds newest first
func (s *MongoKnowledgeStore) ListCandidateItems(ctx context.Context, projectID string, kinds []models.KnowledgeKind) ([]models.KnowledgeItem, error) {
	if len(kinds) == 0 {
		return []models.KnowledgeItem{}, nil
	}

	filter := bson.M{"projectId": projectID, "kind": bson.M{"$in": kinds}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})

	cursor, err := s.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge items: %w", err)
	}
	defer cursor.Close(ctx)

	items := []models.KnowledgeItem{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge items: %w", err)
	}
	return items, nil
}

// SaveProject upserts a project header
func (s *MongoKnowledgeStore) SaveProject(ctx context.Context, projectID, name string) error {
	_, err := s.projects.UpdateOne(ctx,
		bson.M{"_id": projectID},
		bson.M{"$set": bson.M{"name": name}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// SaveItem upserts a knowledge item
func (s *MongoKnowledgeStore) SaveItem(ctx context.Context, item models.KnowledgeItem) error {
	_, err := s.items.ReplaceOne(ctx, bson.M{"_id": item.ID}, item, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save knowledge item: %w", err)
	}
	return nil
}
