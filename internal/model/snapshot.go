package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SnapshotType names the category of captured provider data
type SnapshotType string

const (
	SnapshotWebContent  SnapshotType = "web_content"
	SnapshotSEORankings SnapshotType = "seo_rankings"
	SnapshotLocalEvents SnapshotType = "local_events"
	SnapshotPhotos      SnapshotType = "photos"
	SnapshotBusyTimes   SnapshotType = "busy_times"
	SnapshotWeather     SnapshotType = "weather"
	SnapshotCompetitive SnapshotType = "competitive"
)

// DateLayout is the format of snapshot and insight dates
const DateLayout = "2006-01-02"

// Snapshot is a normalized, hashed capture of provider data for one entity on one date
type Snapshot struct {
	ID         string         `json:"id" bson:"_id"`
	TenantID   string         `json:"tenant_id" bson:"tenant_id"`
	LocationID string         `json:"location_id" bson:"location_id"`
	EntityID   string         `json:"entity_id" bson:"entity_id"`
	EntityKind EntityKind     `json:"entity_kind" bson:"entity_kind"`
	EntityName string         `json:"entity_name" bson:"entity_name"`
	Type       SnapshotType   `json:"type" bson:"type"`
	Date       string         `json:"date" bson:"date"`
	Hash       string         `json:"hash" bson:"hash"`
	Data       map[string]any `json:"data" bson:"data"`
	CapturedAt time.Time      `json:"captured_at" bson:"captured_at"`
}

// SnapshotID derives the row key for (entity, date, type)
func SnapshotID(entityID, date string, t SnapshotType) string {
	return entityID + ":" + date + ":" + string(t)
}

// Evidence is the before/after pair backing an insight
type Evidence struct {
	Field  string `json:"field" bson:"field"`
	Before any    `json:"before,omitempty" bson:"before,omitempty"`
	After  any    `json:"after,omitempty" bson:"after,omitempty"`
}

// Insight is a generated statement derived from a snapshot diff
type Insight struct {
	ID           string       `json:"id" bson:"_id"`
	TenantID     string       `json:"tenant_id" bson:"tenant_id"`
	LocationID   string       `json:"location_id" bson:"location_id"`
	EntityID     string       `json:"entity_id" bson:"entity_id"`
	EntityName   string       `json:"entity_name" bson:"entity_name"`
	SnapshotType SnapshotType `json:"snapshot_type" bson:"snapshot_type"`
	Rule         string       `json:"rule" bson:"rule"`
	Severity     string       `json:"severity" bson:"severity"`
	Title        string       `json:"title" bson:"title"`
	Detail       string       `json:"detail,omitempty" bson:"detail,omitempty"`
	Evidence     []Evidence   `json:"evidence,omitempty" bson:"evidence,omitempty"`
	Date         string       `json:"date" bson:"date"`
	CreatedAt    time.Time    `json:"created_at" bson:"created_at"`
}

// InsightID derives a deterministic key so duplicate runs upsert the same row
func InsightID(entityID, date string, t SnapshotType, rule string) string {
	sum := sha256.Sum256([]byte(entityID + "|" + date + "|" + string(t) + "|" + rule))
	return hex.EncodeToString(sum[:16])
}
