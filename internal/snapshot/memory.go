package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/scout/internal/model"
)

// MemoryStore keeps snapshots in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*model.Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty snapshot store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*model.Snapshot)}
}

func (s *MemoryStore) Latest(_ context.Context, entityID string, t model.SnapshotType) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Snapshot
	for _, snap := range s.snaps {
		if snap.EntityID != entityID || snap.Type != t {
			continue
		}
		if latest == nil || snap.Date > latest.Date {
			latest = snap
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (s *MemoryStore) Upsert(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *snap
	c.ID = model.SnapshotID(snap.EntityID, snap.Date, snap.Type)
	s.snaps[c.ID] = &c
	return nil
}

func (s *MemoryStore) LatestForLocation(_ context.Context, locationID string, t model.SnapshotType) ([]*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byEntity := make(map[string]*model.Snapshot)
	for _, snap := range s.snaps {
		if snap.LocationID != locationID || snap.Type != t {
			continue
		}
		if cur, ok := byEntity[snap.EntityID]; !ok || snap.Date > cur.Date {
			byEntity[snap.EntityID] = snap
		}
	}
	out := make([]*model.Snapshot, 0, len(byEntity))
	for _, snap := range byEntity {
		c := *snap
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Count returns the number of stored snapshots
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
}

type memoryLock struct {
	owner   string
	expires time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if cur, ok := l.locks[key]; ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	l.locks[key] = memoryLock{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.locks[key]; ok && cur.owner == owner {
		delete(l.locks, key)
	}
	return nil
}
