package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/scout/internal/model"
	"github.com/google/uuid"
)

// ErrLocked is returned when the snapshot lock could not be taken in time
var ErrLocked = errors.New("snapshot is being recorded by another run")

// Store persists snapshots
type Store interface {
	// Latest returns the newest snapshot for (entity, type), or nil when none exists
	Latest(ctx context.Context, entityID string, t model.SnapshotType) (*model.Snapshot, error)
	Upsert(ctx context.Context, snap *model.Snapshot) error
	LatestForLocation(ctx context.Context, locationID string, t model.SnapshotType) ([]*model.Snapshot, error)
}

// Locker is a distributed advisory lock
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// Outcome is the result of recording one snapshot
type Outcome struct {
	Snapshot *model.Snapshot
	Previous *model.Snapshot
	// Changed is true only when a previous snapshot exists with a different hash
	Changed bool
	Changes []Change
	DiffDoc map[string]any
}

// RecorderOptions tunes lock behaviour
type RecorderOptions struct {
	LockTTL      time.Duration
	LockAttempts int
	LockBackoff  time.Duration
}

// Recorder normalizes, hashes and upserts snapshots with change detection
type Recorder struct {
	store      Store
	locker     Locker
	normalizer *Normalizer
	opts       RecorderOptions
	now        func() time.Time
}

// NewRecorder creates a recorder. A nil locker disables cross-process locking.
func NewRecorder(store Store, locker Locker, normalizer *Normalizer, opts RecorderOptions) *Recorder {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockAttempts <= 0 {
		opts.LockAttempts = 20
	}
	if opts.LockBackoff <= 0 {
		opts.LockBackoff = 250 * time.Millisecond
	}
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	return &Recorder{
		store:      store,
		locker:     locker,
		normalizer: normalizer,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Record stores doc as the (entity, date, type) snapshot and reports whether
// it differs from the previous one. The read of the previous snapshot and the
// upsert happen under one advisory lock.
func (r *Recorder) Record(ctx context.Context, entity model.Entity, t model.SnapshotType, date string, doc map[string]any) (*Outcome, error) {
	data, err := r.normalizer.Normalize(t, doc)
	if err != nil {
		return nil, fmt.Errorf("normalize %s for %s: %w", t, entity.ID, err)
	}
	hash, err := Hash(data)
	if err != nil {
		return nil, err
	}

	key := lockKey(entity.ID, date, t)
	owner := uuid.New().String()
	if err := r.lock(ctx, key, owner); err != nil {
		return nil, err
	}
	defer r.unlock(ctx, key, owner)

	previous, err := r.store.Latest(ctx, entity.ID, t)
	if err != nil {
		return nil, fmt.Errorf("load previous %s snapshot: %w", t, err)
	}

	snap := &model.Snapshot{
		ID:         model.SnapshotID(entity.ID, date, t),
		TenantID:   entity.TenantID,
		LocationID: entity.LocationID,
		EntityID:   entity.ID,
		EntityKind: entity.Kind,
		EntityName: entity.Name,
		Type:       t,
		Date:       date,
		Hash:       hash,
		Data:       data,
		CapturedAt: r.now(),
	}
	if err := r.store.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("save %s snapshot: %w", t, err)
	}

	outcome := &Outcome{Snapshot: snap, Previous: previous}
	if previous == nil || previous.Hash == hash {
		return outcome, nil
	}

	outcome.Changed = true
	outcome.Changes, outcome.DiffDoc = Diff(previous.Data, data)

	slog.Debug("Snapshot changed",
		"entity_id", entity.ID,
		"snapshot_type", t,
		"date", date,
		"changes", len(outcome.Changes),
	)
	return outcome, nil
}

func (r *Recorder) lock(ctx context.Context, key, owner string) error {
	if r.locker == nil {
		return nil
	}
	for attempt := 0; attempt < r.opts.LockAttempts; attempt++ {
		ok, err := r.locker.Acquire(ctx, key, owner, r.opts.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire snapshot lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.LockBackoff):
		}
	}
	return ErrLocked
}

func (r *Recorder) unlock(ctx context.Context, key, owner string) {
	if r.locker == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.locker.Release(rctx, key, owner); err != nil {
		slog.Warn("Failed to release snapshot lock", "key", key, "error", err)
	}
}

func lockKey(entityID, date string, t model.SnapshotType) string {
	return "snapshot:" + model.SnapshotID(entityID, date, t)
}
