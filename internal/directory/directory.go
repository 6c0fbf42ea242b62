// Package directory reads tenants, locations and competitors.
// The records are owned by another system; this service only reads them.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dandantas/scout/internal/model"
)

// ErrNotFound is returned when a tenant or location does not exist
var ErrNotFound = errors.New("not found")

// Directory is read access to business entities
type Directory interface {
	Tenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	Location(ctx context.Context, locationID string) (*model.Location, error)
	Competitors(ctx context.Context, locationID string) ([]*model.Competitor, error)
	AllLocations(ctx context.Context) ([]*model.Location, error)
}

// Memory is an in-process Directory used by tests and the embedded mode
type Memory struct {
	mu          sync.RWMutex
	tenants     map[string]*model.Tenant
	locations   map[string]*model.Location
	competitors map[string][]*model.Competitor
}

// NewMemory creates an empty in-memory directory
func NewMemory() *Memory {
	return &Memory{
		tenants:     make(map[string]*model.Tenant),
		locations:   make(map[string]*model.Location),
		competitors: make(map[string][]*model.Competitor),
	}
}

// AddTenant registers a tenant
func (m *Memory) AddTenant(t model.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = &t
}

// AddLocation registers a location
func (m *Memory) AddLocation(l model.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.ID] = &l
}

// AddCompetitor registers a competitor under its location
func (m *Memory) AddCompetitor(c model.Competitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.competitors[c.LocationID] = append(m.competitors[c.LocationID], &c)
}

func (m *Memory) Tenant(_ context.Context, tenantID string) (*model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *Memory) Location(_ context.Context, locationID string) (*model.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[locationID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *Memory) Competitors(_ context.Context, locationID string) ([]*model.Competitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Competitor, 0, len(m.competitors[locationID]))
	for _, c := range m.competitors[locationID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) AllLocations(_ context.Context) ([]*model.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Location, 0, len(m.locations))
	for _, l := range m.locations {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
