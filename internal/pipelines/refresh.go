package pipelines

import (
	"context"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
)

// RefreshAll runs every pipeline due today for the tenant's tier as one job.
// Insights runs last so it compares the data refreshed before it.
func (d *Deps) RefreshAll() *pipeline.Composite {
	return &pipeline.Composite{
		PipelineType: model.PipelineRefreshAll,
		Parts: func(ctx context.Context, req pipeline.Request) ([]pipeline.Launcher, error) {
			base, err := d.buildBase(ctx, req)
			if err != nil {
				return nil, err
			}

			candidates := []pipeline.Launcher{
				d.Content(),
				d.Visibility(),
				d.Events(),
				d.Photos(),
				d.BusyTimes(),
				d.Weather(),
				d.Insights(),
			}
			parts := make([]pipeline.Launcher, 0, len(candidates))
			for _, l := range candidates {
				if base.Tier.Due(l.Type(), req.Now) {
					parts = append(parts, l)
				}
			}
			if len(parts) == 0 {
				return nil, &pipeline.SetupError{Err: pipeline.ErrNoSteps}
			}
			return parts, nil
		},
		Redirect: redirect("/dashboard"),
	}
}
