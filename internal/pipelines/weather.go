package pipelines

import (
	"context"
	"fmt"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
)

// Weather fetches today's weather for the location in a single fatal step
func (d *Deps) Weather() *pipeline.Definition[Base] {
	return &pipeline.Definition[Base]{
		PipelineType: model.PipelineWeather,
		Build: func(ctx context.Context, req pipeline.Request) (*Base, error) {
			base, err := d.buildBase(ctx, req)
			if err != nil {
				return nil, err
			}
			if !base.Location.HasCoordinates() {
				return nil, &pipeline.SetupError{Err: ErrNoCoordinates}
			}
			return base, nil
		},
		Steps: func(*Base) []pipeline.Step[Base] {
			return []pipeline.Step[Base]{
				{
					Name:   "fetch_weather",
					Label:  "Fetching today's weather",
					Policy: pipeline.Fatal,
					Run:    d.fetchWeather,
				},
			}
		},
		Redirect: redirect("/weather"),
	}
}

func (d *Deps) fetchWeather(ctx context.Context, b *Base, run *pipeline.Run) error {
	entity := model.LocationEntity(b.Location)

	doc, err := d.Providers.Weather.Forecast(ctx, b.Location.Latitude, b.Location.Longitude)
	if err != nil {
		return pipeline.UserErrorf(err, "Weather fetch failed for %s", entity.Name)
	}

	outcome, err := d.Recorder.Record(ctx, entity, model.SnapshotWeather, b.Date, doc)
	if err != nil {
		return pipeline.UserErrorf(err, "Weather snapshot save failed for %s", entity.Name)
	}
	if !outcome.Changed {
		return nil
	}

	created, err := d.Generator.Generate(ctx, outcome)
	if err != nil {
		run.Logger.Warn("Weather insight generation failed", "location_id", entity.ID, "error", err)
		run.Warnf("Weather insights failed for %s", entity.Name)
		return nil
	}
	if created > 0 {
		run.Card(model.AmbientCard{
			ID:       fmt.Sprintf("%s:weather", run.JobID),
			Category: "weather",
			Text:     fmt.Sprintf("Weather changed near %s", entity.Name),
		})
	}
	return nil
}
