package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/scout/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsightRepository handles insight persistence
type InsightRepository struct {
	collection *mongo.Collection
}

// NewInsightRepository creates a new insight repository
func NewInsightRepository(db *MongoDB) *InsightRepository {
	return &InsightRepository{
		collection: db.GetCollection(CollectionInsights),
	}
}

// Upsert stores an insight by its deterministic id.
// Returns true when the insight did not exist before.
func (r *InsightRepository) Upsert(ctx context.Context, insight *model.Insight) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Update().SetUpsert(true)
	update := bson.M{"$setOnInsert": insight}

	result, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": insight.ID}, update, opts)
	if err != nil {
		return false, fmt.Errorf("failed to upsert insight: %w", err)
	}
	return result.UpsertedCount > 0, nil
}

// ListRecent returns the newest insights for a location
func (r *InsightRepository) ListRecent(ctx context.Context, locationID string, limit int) ([]*model.Insight, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"location_id": locationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	insights := make([]*model.Insight, 0)
	if err := cursor.All(ctxTimeout, &insights); err != nil {
		return nil, fmt.Errorf("failed to decode insights: %w", err)
	}
	return insights, nil
}
