package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/scout/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LockRepository handles distributed advisory locks keyed by string
type LockRepository struct {
	collection *mongo.Collection
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db *MongoDB) *LockRepository {
	return &LockRepository{
		collection: db.GetCollection(CollectionLocks),
	}
}

// Acquire attempts to take the lock for key.
// Returns false when another owner holds an unexpired lock.
func (r *LockRepository) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	filter := bson.M{
		"key": key,
		"$or": []bson.M{
			{"expires_at": bson.M{"$lt": now}},
			{"expires_at": bson.M{"$exists": false}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"key":        key,
			"locked_by":  owner,
			"locked_at":  now,
			"expires_at": expiresAt,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.Lock
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)
	if err != nil {
		// A live lock makes the upsert collide with the unique key index.
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if result.LockedBy != owner {
		return false, nil
	}

	slog.Debug("Acquired lock", "key", key, "owner", owner, "expires_at", expiresAt)
	return true, nil
}

// Release deletes the lock only if owner holds it
func (r *LockRepository) Release(ctx context.Context, key, owner string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"key": key, "locked_by": owner})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result.DeletedCount > 0 {
		slog.Debug("Released lock", "key", key, "owner", owner)
	}
	return nil
}
