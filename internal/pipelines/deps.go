// Package pipelines defines the data-refresh pipelines run for a location.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dandantas/scout/internal/config"
	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/insight"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/snapshot"
)

var (
	// ErrLocationNotInTenant is returned when a location belongs to another tenant
	ErrLocationNotInTenant = errors.New("location does not belong to tenant")
	// ErrNoCoordinates is returned for geo pipelines on a location without coordinates
	ErrNoCoordinates = errors.New("location has no coordinates")
)

// fanOutLimit bounds concurrent provider calls within one step
const fanOutLimit = 4

// Deps are the collaborators shared by every pipeline
type Deps struct {
	Directory directory.Directory
	Providers provider.Set
	Recorder  *snapshot.Recorder
	Snapshots snapshot.Store
	Generator *insight.Generator
	Tiers     *config.Tiers
}

// Base is the context every pipeline starts from
type Base struct {
	Request     pipeline.Request
	Tenant      *model.Tenant
	Tier        config.Tier
	Location    *model.Location
	Competitors []*model.Competitor
	Date        string
}

// Entities returns the location followed by its competitors
func (b *Base) Entities() []model.Entity {
	out := make([]model.Entity, 0, len(b.Competitors)+1)
	out = append(out, model.LocationEntity(b.Location))
	for _, c := range b.Competitors {
		out = append(out, model.CompetitorEntity(c))
	}
	return out
}

// buildBase loads the tenant, location and competitors for req
func (d *Deps) buildBase(ctx context.Context, req pipeline.Request) (*Base, error) {
	tenant, err := d.Directory.Tenant(ctx, req.TenantID)
	if err != nil {
		return nil, &pipeline.SetupError{Err: fmt.Errorf("load tenant %s: %w", req.TenantID, err)}
	}
	location, err := d.Directory.Location(ctx, req.LocationID)
	if err != nil {
		return nil, &pipeline.SetupError{Err: fmt.Errorf("load location %s: %w", req.LocationID, err)}
	}
	if location.TenantID != tenant.ID {
		return nil, &pipeline.SetupError{Err: ErrLocationNotInTenant}
	}

	competitors, err := d.Directory.Competitors(ctx, location.ID)
	if err != nil {
		return nil, &pipeline.SetupError{Err: fmt.Errorf("load competitors: %w", err)}
	}

	tier := d.tiers().Tier(tenant.Tier)
	if tier.MaxCompetitors > 0 && len(competitors) > tier.MaxCompetitors {
		competitors = competitors[:tier.MaxCompetitors]
	}

	return &Base{
		Request:     req,
		Tenant:      tenant,
		Tier:        tier,
		Location:    location,
		Competitors: competitors,
		Date:        req.Date(),
	}, nil
}

func (d *Deps) tiers() *config.Tiers {
	if d.Tiers == nil {
		return config.DefaultTiers()
	}
	return d.Tiers
}

// NewRegistry registers every pipeline built from deps
func NewRegistry(d *Deps) *pipeline.Registry {
	return pipeline.NewRegistry(
		d.Content(),
		d.Visibility(),
		d.Events(),
		d.Photos(),
		d.BusyTimes(),
		d.Weather(),
		d.Insights(),
		d.RefreshAll(),
	)
}

// redirect builds a page link scoped to the request location
func redirect(path string) func(pipeline.Request) string {
	return func(req pipeline.Request) string {
		return path + "?location_id=" + url.QueryEscape(req.LocationID)
	}
}

// domainOf extracts the host of a website, tolerating a missing scheme
func domainOf(website string) string {
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
