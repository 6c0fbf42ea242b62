package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	specs := map[string][]mongo.IndexModel{
		CollectionJobs:      jobIndexes(),
		CollectionSnapshots: snapshotIndexes(),
		CollectionInsights:  insightIndexes(),
		CollectionLocks:     lockIndexes(),
		CollectionLocations: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}},
				Options: options.Index().SetName("idx_tenant_id"),
			},
		},
		CollectionCompetitors: {
			{
				Keys:    bson.D{{Key: "location_id", Value: 1}},
				Options: options.Index().SetName("idx_location_id"),
			},
		},
	}

	for collection, indexes := range specs {
		if err := createIndexes(ctx, db, collection, indexes); err != nil {
			return err
		}
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createIndexes(ctx context.Context, db *MongoDB, collection string, indexes []mongo.IndexModel) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := db.GetCollection(collection).Indexes().CreateMany(ctxTimeout, indexes); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", collection, err)
	}

	slog.Info("Created indexes", "collection", collection, "count", len(indexes))
	return nil
}

func jobIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_tenant_status_created_at"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "updated_at", Value: -1},
			},
			Options: options.Index().SetName("idx_tenant_updated_at"),
		},
	}
}

func snapshotIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "entity_id", Value: 1},
				{Key: "date", Value: 1},
				{Key: "type", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_entity_date_type_unique"),
		},
		{
			Keys: bson.D{
				{Key: "entity_id", Value: 1},
				{Key: "type", Value: 1},
				{Key: "date", Value: -1},
			},
			Options: options.Index().SetName("idx_entity_type_date"),
		},
		{
			Keys: bson.D{
				{Key: "location_id", Value: 1},
				{Key: "type", Value: 1},
				{Key: "date", Value: -1},
			},
			Options: options.Index().SetName("idx_location_type_date"),
		},
	}
}

func insightIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "location_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_location_created_at"),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "date", Value: -1},
			},
			Options: options.Index().SetName("idx_tenant_date"),
		},
	}
}

func lockIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_expires_at_ttl"),
		},
		{
			Keys:    bson.D{{Key: "locked_by", Value: 1}},
			Options: options.Index().SetName("idx_locked_by"),
		},
	}
}
