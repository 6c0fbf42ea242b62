package model

import (
	"time"
)

// Lock is a distributed advisory lock document.
// Keys are namespaced, e.g. "orchestrator:<location>:<date>" or "snapshot:<entity>:<date>:<type>".
type Lock struct {
	Key       string    `json:"key" bson:"key"`
	LockedBy  string    `json:"locked_by" bson:"locked_by"`   // Owner identifier (hostname or run id)
	LockedAt  time.Time `json:"locked_at" bson:"locked_at"`   // Lock acquisition timestamp
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"` // Lock expiration (TTL)
}
