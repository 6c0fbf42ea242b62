package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DirectoryRepository reads tenants, locations and competitors from MongoDB
type DirectoryRepository struct {
	tenants     *mongo.Collection
	locations   *mongo.Collection
	competitors *mongo.Collection
}

var _ directory.Directory = (*DirectoryRepository)(nil)

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *MongoDB) *DirectoryRepository {
	return &DirectoryRepository{
		tenants:     db.GetCollection(CollectionTenants),
		locations:   db.GetCollection(CollectionLocations),
		competitors: db.GetCollection(CollectionCompetitors),
	}
}

// Tenant retrieves a tenant by id
func (r *DirectoryRepository) Tenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.findOne(ctx, r.tenants, tenantID, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Location retrieves a location by id
func (r *DirectoryRepository) Location(ctx context.Context, locationID string) (*model.Location, error) {
	var location model.Location
	if err := r.findOne(ctx, r.locations, locationID, &location); err != nil {
		return nil, err
	}
	return &location, nil
}

// Competitors lists the competitors tracked for a location
func (r *DirectoryRepository) Competitors(ctx context.Context, locationID string) ([]*model.Competitor, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := r.competitors.Find(ctxTimeout, bson.M{"location_id": locationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitors: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	competitors := make([]*model.Competitor, 0)
	if err := cursor.All(ctxTimeout, &competitors); err != nil {
		return nil, fmt.Errorf("failed to decode competitors: %w", err)
	}
	return competitors, nil
}

// AllLocations lists every location across tenants for the daily sweep
func (r *DirectoryRepository) AllLocations(ctx context.Context) ([]*model.Location, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.locations.Find(ctxTimeout, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	locations := make([]*model.Location, 0)
	if err := cursor.All(ctxTimeout, &locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations: %w", err)
	}
	return locations, nil
}

func (r *DirectoryRepository) findOne(ctx context.Context, coll *mongo.Collection, id string, out any) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := coll.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return directory.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", coll.Name(), err)
	}
	return nil
}
