package services

import (
	"context"
	"fmt"

	"taskloom/internal/database"
	"taskloom/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedgerStore keeps one document per session in the sessions collection
type MongoLedgerStore struct {
	collection *mongo.Collection
}

// NewMongoLedgerStore creates a ledger store over MongoDB
func NewMongoLedgerStore(db *database.MongoDB) *MongoLedgerStore {
	return &MongoLedgerStore{collection: db.Collection(database.CollectionSessions)}
}

// Load returns the project's sessions ordered by start time
func (s *MongoLedgerStore) Load(ctx context.Context, projectID string) ([]models.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}, {Key: "id", Value: 1}})

	cursor, err := s.collection.Find(ctx, bson.M{"projectId": projectID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer cursor.Close(ctx)

	history := []models.Session{}
	if err := cursor.All(ctx, &history); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return history, nil
}

// Save upserts every session of the history. Sessions are never deleted.
func (s *MongoLedgerStore) Save(ctx context.Context, projectID string, history []models.Session) error {
	if len(history) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(history))
	for _, session := range history {
		session.ProjectID = projectID
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"id": session.ID}).
			SetReplacement(session).
			SetUpsert(true))
	}

	if _, err := s.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	return nil
}
