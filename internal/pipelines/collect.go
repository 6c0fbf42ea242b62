package pipelines

import (
	"context"
	"fmt"
	"sync"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/snapshot"
	"golang.org/x/sync/errgroup"
)

// Collect is the context of pipelines that fetch one provider document per
// entity, snapshot it and derive insights from the change
type Collect struct {
	*Base
	Targets []model.Entity

	mu       sync.Mutex
	docs     map[string]provider.Document
	outcomes []*snapshot.Outcome
}

func (c *Collect) setDoc(entityID string, doc provider.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[entityID] = doc
}

// Outcomes returns the recorded snapshot outcomes in target order
func (c *Collect) Outcomes() []*snapshot.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*snapshot.Outcome(nil), c.outcomes...)
}

// collector describes one fetch-snapshot-insight pipeline
type collector struct {
	pipelineType model.PipelineType
	snapshotType model.SnapshotType
	redirect     string

	fetchName  string
	fetchLabel string
	saveLabel  string
	// fetchPolicy Fatal means any failed target fails the job
	fetchPolicy pipeline.Policy

	// fetchFailed and saveFailed are warnings formatted with the entity name
	fetchFailed string
	saveFailed  string

	// targets selects the entities to fetch; an empty result is a setup error
	targets func(b *Base) ([]model.Entity, error)
	fetch   func(ctx context.Context, b *Base, e model.Entity) (provider.Document, error)
}

func (d *Deps) collect(spec collector) *pipeline.Definition[Collect] {
	return &pipeline.Definition[Collect]{
		PipelineType: spec.pipelineType,
		Build: func(ctx context.Context, req pipeline.Request) (*Collect, error) {
			base, err := d.buildBase(ctx, req)
			if err != nil {
				return nil, err
			}
			targets, err := spec.targets(base)
			if err != nil {
				return nil, err
			}
			if len(targets) == 0 {
				return nil, &pipeline.SetupError{Err: pipeline.ErrNoSteps}
			}
			return &Collect{
				Base:    base,
				Targets: targets,
				docs:    make(map[string]provider.Document, len(targets)),
			}, nil
		},
		Steps: func(c *Collect) []pipeline.Step[Collect] {
			return []pipeline.Step[Collect]{
				{
					Name:   spec.fetchName,
					Label:  spec.fetchLabel,
					Policy: spec.fetchPolicy,
					Run: func(ctx context.Context, c *Collect, run *pipeline.Run) error {
						return d.fetchAll(ctx, spec, c, run)
					},
				},
				{
					Name:   "save_snapshots",
					Label:  spec.saveLabel,
					Policy: pipeline.Continue,
					Run: func(ctx context.Context, c *Collect, run *pipeline.Run) error {
						return d.saveAll(ctx, spec, c, run)
					},
				},
				{
					Name:   "generate_insights",
					Label:  "Generating insights",
					Policy: pipeline.Continue,
					Run: func(ctx context.Context, c *Collect, run *pipeline.Run) error {
						return d.generateAll(ctx, c, run)
					},
				},
			}
		},
		Redirect: redirect(spec.redirect),
	}
}

// fetchAll calls the provider for every target concurrently. A failing
// target becomes a warning unless the step is fatal.
func (d *Deps) fetchAll(ctx context.Context, spec collector, c *Collect, run *pipeline.Run) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)

	var mu sync.Mutex
	failed := 0

	for _, target := range c.Targets {
		g.Go(func() error {
			doc, err := spec.fetch(gctx, c.Base, target)
			if err == nil {
				c.setDoc(target.ID, doc)
				return nil
			}
			run.Logger.Warn("Provider fetch failed",
				"pipeline", spec.pipelineType,
				"entity_id", target.ID,
				"error", err,
			)
			if spec.fetchPolicy == pipeline.Fatal {
				return pipeline.UserErrorf(err, spec.fetchFailed, target.Name)
			}
			run.Warnf(spec.fetchFailed, target.Name)
			mu.Lock()
			failed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	run.Logger.Info("Fetched provider data",
		"pipeline", spec.pipelineType,
		"targets", len(c.Targets),
		"failed", failed,
	)
	return nil
}

// saveAll records a snapshot for every fetched document
func (d *Deps) saveAll(ctx context.Context, spec collector, c *Collect, run *pipeline.Run) error {
	for _, target := range c.Targets {
		c.mu.Lock()
		doc, ok := c.docs[target.ID]
		c.mu.Unlock()
		if !ok {
			continue
		}

		outcome, err := d.Recorder.Record(ctx, target, spec.snapshotType, c.Date, doc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.Logger.Warn("Snapshot save failed", "entity_id", target.ID, "snapshot_type", spec.snapshotType, "error", err)
			run.Warnf(spec.saveFailed, target.Name)
			continue
		}

		c.mu.Lock()
		c.outcomes = append(c.outcomes, outcome)
		c.mu.Unlock()
	}
	return nil
}

// generateAll derives insights from every changed snapshot
func (d *Deps) generateAll(ctx context.Context, c *Collect, run *pipeline.Run) error {
	created := 0
	for _, outcome := range c.Outcomes() {
		if !outcome.Changed {
			continue
		}
		n, err := d.Generator.Generate(ctx, outcome)
		if err != nil {
			return pipeline.UserErrorf(err, "Insight generation failed for %s", outcome.Snapshot.EntityName)
		}
		created += n
	}
	if created > 0 {
		run.Card(model.AmbientCard{
			ID:       fmt.Sprintf("%s:insights", run.JobID),
			Category: "insight",
			Text:     fmt.Sprintf("%d new insights found", created),
		})
	}
	return nil
}
