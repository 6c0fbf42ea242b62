package pipelines

import (
	"context"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/provider"
)

// Content scrapes competitor websites and tracks menu, specials and hours
func (d *Deps) Content() *pipeline.Definition[Collect] {
	return d.collect(collector{
		pipelineType: model.PipelineContent,
		snapshotType: model.SnapshotWebContent,
		redirect:     "/competitors",
		fetchName:    "scrape_sites",
		fetchLabel:   "Scraping competitor websites",
		saveLabel:    "Saving content snapshots",
		fetchPolicy:  pipeline.Continue,
		fetchFailed:  "Content scrape failed for %s",
		saveFailed:   "Menu snapshot save failed for %s",
		targets: func(b *Base) ([]model.Entity, error) {
			return withWebsite(b.Entities()), nil
		},
		fetch: func(ctx context.Context, _ *Base, e model.Entity) (provider.Document, error) {
			return d.Providers.Scraper.Scrape(ctx, e.Website)
		},
	})
}

// Visibility tracks search rankings of the location and its competitors
func (d *Deps) Visibility() *pipeline.Definition[Collect] {
	return d.collect(collector{
		pipelineType: model.PipelineVisibility,
		snapshotType: model.SnapshotSEORankings,
		redirect:     "/visibility",
		fetchName:    "fetch_rankings",
		fetchLabel:   "Checking search rankings",
		saveLabel:    "Saving ranking snapshots",
		fetchPolicy:  pipeline.Continue,
		fetchFailed:  "Search ranking check failed for %s",
		saveFailed:   "Ranking snapshot save failed for %s",
		targets: func(b *Base) ([]model.Entity, error) {
			if len(b.Location.Keywords) == 0 {
				return nil, nil
			}
			return withWebsite(b.Entities()), nil
		},
		fetch: func(ctx context.Context, b *Base, e model.Entity) (provider.Document, error) {
			return d.Providers.SEO.Rankings(ctx, domainOf(e.Website), keywords(b))
		},
	})
}

// Events discovers local events around the location
func (d *Deps) Events() *pipeline.Definition[Collect] {
	return d.collect(collector{
		pipelineType: model.PipelineEvents,
		snapshotType: model.SnapshotLocalEvents,
		redirect:     "/events",
		fetchName:    "discover_events",
		fetchLabel:   "Finding nearby events",
		saveLabel:    "Saving event snapshots",
		fetchPolicy:  pipeline.Fatal,
		fetchFailed:  "Event discovery failed for %s",
		saveFailed:   "Event snapshot save failed for %s",
		targets: func(b *Base) ([]model.Entity, error) {
			if !b.Location.HasCoordinates() {
				return nil, &pipeline.SetupError{Err: ErrNoCoordinates}
			}
			return []model.Entity{model.LocationEntity(b.Location)}, nil
		},
		fetch: func(ctx context.Context, b *Base, _ model.Entity) (provider.Document, error) {
			return d.Providers.Events.Discover(ctx, b.Location.Latitude, b.Location.Longitude)
		},
	})
}

// Photos tracks listing photos of every entity with a place id
func (d *Deps) Photos() *pipeline.Definition[Collect] {
	return d.collect(collector{
		pipelineType: model.PipelinePhotos,
		snapshotType: model.SnapshotPhotos,
		redirect:     "/photos",
		fetchName:    "fetch_photos",
		fetchLabel:   "Collecting listing photos",
		saveLabel:    "Saving photo snapshots",
		fetchPolicy:  pipeline.Continue,
		fetchFailed:  "Photo fetch failed for %s",
		saveFailed:   "Photo snapshot save failed for %s",
		targets: func(b *Base) ([]model.Entity, error) {
			return withPlaceID(b.Entities()), nil
		},
		fetch: func(ctx context.Context, _ *Base, e model.Entity) (provider.Document, error) {
			return d.Providers.Places.Photos(ctx, e.PlaceID)
		},
	})
}

// BusyTimes tracks foot-traffic patterns of every entity with a place id
func (d *Deps) BusyTimes() *pipeline.Definition[Collect] {
	return d.collect(collector{
		pipelineType: model.PipelineBusyTimes,
		snapshotType: model.SnapshotBusyTimes,
		redirect:     "/traffic",
		fetchName:    "fetch_busy_times",
		fetchLabel:   "Fetching foot-traffic patterns",
		saveLabel:    "Saving traffic snapshots",
		fetchPolicy:  pipeline.Continue,
		fetchFailed:  "Traffic data unavailable for %s",
		saveFailed:   "Traffic snapshot save failed for %s",
		targets: func(b *Base) ([]model.Entity, error) {
			return withPlaceID(b.Entities()), nil
		},
		fetch: func(ctx context.Context, _ *Base, e model.Entity) (provider.Document, error) {
			return d.Providers.Places.BusyTimes(ctx, e.PlaceID)
		},
	})
}

func withWebsite(entities []model.Entity) []model.Entity {
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Website != "" {
			out = append(out, e)
		}
	}
	return out
}

func withPlaceID(entities []model.Entity) []model.Entity {
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if e.PlaceID != "" {
			out = append(out, e)
		}
	}
	return out
}

// keywords caps the location keywords by the tier limit
func keywords(b *Base) []string {
	kw := b.Location.Keywords
	if b.Tier.SEOKeywords > 0 && len(kw) > b.Tier.SEOKeywords {
		kw = kw[:b.Tier.SEOKeywords]
	}
	return kw
}
