package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/scout/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SnapshotRepository handles snapshot persistence
type SnapshotRepository struct {
	collection *mongo.Collection
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *MongoDB) *SnapshotRepository {
	return &SnapshotRepository{
		collection: db.GetCollection(CollectionSnapshots),
	}
}

// Latest returns the most recent snapshot for (entity, type), or nil when none exists
func (r *SnapshotRepository) Latest(ctx context.Context, entityID string, t model.SnapshotType) (*model.Snapshot, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}})

	var snap model.Snapshot
	err := r.collection.FindOne(ctxTimeout, bson.M{"entity_id": entityID, "type": t}, opts).Decode(&snap)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &snap, nil
}

// Upsert writes the snapshot keyed by (entity, date, type)
func (r *SnapshotRepository) Upsert(ctx context.Context, snap *model.Snapshot) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap.ID = model.SnapshotID(snap.EntityID, snap.Date, snap.Type)
	opts := options.Replace().SetUpsert(true)

	if _, err := r.collection.ReplaceOne(ctxTimeout, bson.M{"_id": snap.ID}, snap, opts); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// LatestForLocation returns the newest snapshot of type t for each entity of a location
func (r *SnapshotRepository) LatestForLocation(ctx context.Context, locationID string, t model.SnapshotType) ([]*model.Snapshot, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}}).
		SetLimit(500)

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"location_id": locationID, "type": t}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var all []*model.Snapshot
	if err := cursor.All(ctxTimeout, &all); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}

	seen := make(map[string]bool, len(all))
	latest := make([]*model.Snapshot, 0, len(all))
	for _, snap := range all {
		if seen[snap.EntityID] {
			continue
		}
		seen[snap.EntityID] = true
		latest = append(latest, snap)
	}
	return latest, nil
}
