package model

// Tenant is an organization owning locations, competitors and jobs
type Tenant struct {
	ID   string `json:"id" bson:"_id"`
	Name string `json:"name" bson:"name"`
	Tier string `json:"tier" bson:"tier"`
}

// Location is a business location tracked by a tenant
type Location struct {
	ID        string   `json:"id" bson:"_id"`
	TenantID  string   `json:"tenant_id" bson:"tenant_id"`
	Name      string   `json:"name" bson:"name"`
	Website   string   `json:"website,omitempty" bson:"website,omitempty"`
	PlaceID   string   `json:"place_id,omitempty" bson:"place_id,omitempty"`
	Latitude  float64  `json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude float64  `json:"longitude,omitempty" bson:"longitude,omitempty"`
	Keywords  []string `json:"keywords,omitempty" bson:"keywords,omitempty"`
}

// HasCoordinates reports whether the location can be geo-queried
func (l *Location) HasCoordinates() bool {
	return l.Latitude != 0 || l.Longitude != 0
}

// Competitor is a nearby business tracked for a location
type Competitor struct {
	ID         string `json:"id" bson:"_id"`
	TenantID   string `json:"tenant_id" bson:"tenant_id"`
	LocationID string `json:"location_id" bson:"location_id"`
	Name       string `json:"name" bson:"name"`
	Website    string `json:"website,omitempty" bson:"website,omitempty"`
	PlaceID    string `json:"place_id,omitempty" bson:"place_id,omitempty"`
}

// EntityKind distinguishes the tenant's own location from competitors
type EntityKind string

const (
	EntityLocation   EntityKind = "location"
	EntityCompetitor EntityKind = "competitor"
)

// Entity is the subject of a snapshot
type Entity struct {
	ID         string
	Kind       EntityKind
	Name       string
	TenantID   string
	LocationID string
	Website    string
	PlaceID    string
}

// LocationEntity wraps the tenant's own location as a snapshot subject
func LocationEntity(l *Location) Entity {
	return Entity{
		ID:         l.ID,
		Kind:       EntityLocation,
		Name:       l.Name,
		TenantID:   l.TenantID,
		LocationID: l.ID,
		Website:    l.Website,
		PlaceID:    l.PlaceID,
	}
}

// CompetitorEntity wraps a competitor as a snapshot subject
func CompetitorEntity(c *Competitor) Entity {
	return Entity{
		ID:         c.ID,
		Kind:       EntityCompetitor,
		Name:       c.Name,
		TenantID:   c.TenantID,
		LocationID: c.LocationID,
		Website:    c.Website,
		PlaceID:    c.PlaceID,
	}
}
