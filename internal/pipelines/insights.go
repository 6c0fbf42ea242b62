package pipelines

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
)

// comparedTypes maps each compared snapshot type to the metric it ranks on.
// lowerIsBetter marks metrics where the smallest value leads.
var comparedTypes = []struct {
	snapshotType  model.SnapshotType
	metric        string
	leader        string
	lowerIsBetter bool
}{
	{model.SnapshotSEORankings, "average_position", "search_leader", true},
	{model.SnapshotBusyTimes, "peak_hour", "", false},
	{model.SnapshotPhotos, "photo_count", "most_photos", false},
	{model.SnapshotWebContent, "menu_item_count", "largest_menu", false},
	{model.SnapshotLocalEvents, "event_count", "", false},
}

// Analysis is the context of the insights pipeline
type Analysis struct {
	*Base
	Snapshots  map[model.SnapshotType][]*model.Snapshot
	Comparison map[string]any
	Summary    string
}

// Insights compares the latest snapshots of the location with its competitors
func (d *Deps) Insights() *pipeline.Definition[Analysis] {
	return &pipeline.Definition[Analysis]{
		PipelineType: model.PipelineInsights,
		Build: func(ctx context.Context, req pipeline.Request) (*Analysis, error) {
			base, err := d.buildBase(ctx, req)
			if err != nil {
				return nil, err
			}
			return &Analysis{Base: base, Snapshots: make(map[model.SnapshotType][]*model.Snapshot)}, nil
		},
		Steps: func(*Analysis) []pipeline.Step[Analysis] {
			return []pipeline.Step[Analysis]{
				{
					Name:   "load_snapshots",
					Label:  "Loading latest snapshots",
					Policy: pipeline.Fatal,
					Run:    d.loadSnapshots,
				},
				{
					Name:   "compare_competitors",
					Label:  "Comparing competitors",
					Policy: pipeline.Continue,
					Run:    d.compareCompetitors,
				},
				{
					Name:   "summarize",
					Label:  "Writing summary",
					Policy: pipeline.Continue,
					Run:    d.summarize,
				},
			}
		},
		Redirect: redirect("/insights"),
	}
}

func (d *Deps) loadSnapshots(ctx context.Context, a *Analysis, run *pipeline.Run) error {
	total := 0
	for _, ct := range comparedTypes {
		snaps, err := d.Snapshots.LatestForLocation(ctx, a.Location.ID, ct.snapshotType)
		if err != nil {
			return fmt.Errorf("load %s snapshots: %w", ct.snapshotType, err)
		}
		a.Snapshots[ct.snapshotType] = snaps
		total += len(snaps)
	}
	if total == 0 {
		return pipeline.UserErrorf(nil, "No data collected yet for %s", a.Location.Name)
	}
	run.Logger.Debug("Loaded snapshots", "location_id", a.Location.ID, "count", total)
	return nil
}

// compareCompetitors ranks entities per metric and records the result as a
// competitive snapshot of the location
func (d *Deps) compareCompetitors(ctx context.Context, a *Analysis, run *pipeline.Run) error {
	comparison := map[string]any{
		"competitors": float64(len(a.Competitors)),
	}

	for _, ct := range comparedTypes {
		snaps := a.Snapshots[ct.snapshotType]
		if len(snaps) == 0 {
			continue
		}
		values := make(map[string]any, len(snaps))
		var (
			leader string
			best   float64
			found  bool
		)
		for _, s := range snaps {
			v, ok := s.Data[ct.metric]
			if !ok {
				continue
			}
			values[s.EntityName] = v
			n, ok := v.(float64)
			if !ok {
				continue
			}
			if !found || (ct.lowerIsBetter && n < best) || (!ct.lowerIsBetter && n > best) {
				leader, best, found = s.EntityName, n, true
			}
		}
		comparison[string(ct.snapshotType)] = values
		if ct.leader != "" && found {
			comparison[ct.leader] = leader
		}
	}
	if busiest := busiestEntity(a.Snapshots[model.SnapshotBusyTimes]); busiest != "" {
		comparison["busiest"] = busiest
	}
	a.Comparison = comparison

	outcome, err := d.Recorder.Record(ctx, model.LocationEntity(a.Location), model.SnapshotCompetitive, a.Date, comparison)
	if err != nil {
		return pipeline.UserErrorf(err, "Competitor comparison save failed for %s", a.Location.Name)
	}
	if outcome.Changed {
		if _, err := d.Generator.Generate(ctx, outcome); err != nil {
			return pipeline.UserErrorf(err, "Insight generation failed for %s", a.Location.Name)
		}
	}

	if leader, ok := comparison["search_leader"].(string); ok {
		run.Card(model.AmbientCard{
			ID:       run.JobID + ":search_leader",
			Category: "visibility",
			Text:     fmt.Sprintf("%s leads local search results", leader),
		})
	}
	return nil
}

func (d *Deps) summarize(ctx context.Context, a *Analysis, run *pipeline.Run) error {
	if len(a.Comparison) == 0 {
		return nil
	}
	summary, err := d.Providers.Generative.Summarize(ctx, summaryPrompt(a))
	if err != nil {
		return pipeline.UserErrorf(err, "Summary unavailable for %s", a.Location.Name)
	}
	a.Summary = strings.TrimSpace(summary)
	if a.Summary != "" {
		run.Card(model.AmbientCard{
			ID:       run.JobID + ":summary",
			Category: "summary",
			Text:     a.Summary,
		})
	}
	return nil
}

// busiestEntity picks the entity whose busiest hour is most crowded
func busiestEntity(snaps []*model.Snapshot) string {
	var (
		name string
		peak float64
	)
	for _, s := range snaps {
		hours, ok := s.Data["popular_times"].([]any)
		if !ok {
			continue
		}
		for _, h := range hours {
			v, ok := h.(float64)
			if !ok {
				if m, isMap := h.(map[string]any); isMap {
					v, ok = m["busyness"].(float64)
				}
			}
			if ok && v > peak {
				name, peak = s.EntityName, v
			}
		}
	}
	return name
}

func summaryPrompt(a *Analysis) string {
	keys := make([]string, 0, len(a.Comparison))
	for k := range a.Comparison {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize in two sentences how %s compares with %d nearby competitors.\n", a.Location.Name, len(a.Competitors))
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, a.Comparison[k])
	}
	return b.String()
}
