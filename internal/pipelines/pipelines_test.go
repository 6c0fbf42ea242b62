package pipelines

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/scout/internal/config"
	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/insight"
	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/snapshot"
	"github.com/dandantas/scout/internal/transport"
)

var (
	monday  = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	tuesday = time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
)

// fakeProviders serves canned documents and fails for listed keys
type fakeProviders struct {
	mu       sync.Mutex
	fail     map[string]bool
	menus    map[string][]any
	keywords []string
	domains  []string
	calls    int
}

func newFakeProviders() *fakeProviders {
	return &fakeProviders{fail: map[string]bool{}, menus: map[string][]any{}}
}

func (f *fakeProviders) failing(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[key] {
		return errors.New("upstream unavailable for " + key)
	}
	return nil
}

func (f *fakeProviders) Scrape(_ context.Context, url string) (provider.Document, error) {
	if err := f.failing(url); err != nil {
		return nil, err
	}
	f.mu.Lock()
	items, ok := f.menus[url]
	f.mu.Unlock()
	if !ok {
		items = []any{"burger", "fries"}
	}
	return provider.Document{
		"title": "Site " + url,
		"menu":  map[string]any{"items": items},
		"hours": "9-17",
	}, nil
}

func (f *fakeProviders) Rankings(_ context.Context, domain string, keywords []string) (provider.Document, error) {
	if err := f.failing(domain); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.keywords = keywords
	f.domains = append(f.domains, domain)
	f.mu.Unlock()
	return provider.Document{
		"rankings": []any{map[string]any{"keyword": "pizza", "position": 3}},
		"summary":  map[string]any{"average_position": float64(len(domain))},
	}, nil
}

func (f *fakeProviders) Discover(context.Context, float64, float64) (provider.Document, error) {
	if err := f.failing("events"); err != nil {
		return nil, err
	}
	return provider.Document{"events": []any{"street fair"}}, nil
}

func (f *fakeProviders) Photos(_ context.Context, placeID string) (provider.Document, error) {
	if err := f.failing(placeID); err != nil {
		return nil, err
	}
	return provider.Document{"photos": []any{"a.jpg", "b.jpg"}}, nil
}

func (f *fakeProviders) BusyTimes(_ context.Context, placeID string) (provider.Document, error) {
	if err := f.failing(placeID); err != nil {
		return nil, err
	}
	return provider.Document{"popular_times": []any{10.0, 80.0, 40.0}, "summary": map[string]any{"peak_hour": 12.0}}, nil
}

func (f *fakeProviders) Forecast(context.Context, float64, float64) (provider.Document, error) {
	if err := f.failing("weather"); err != nil {
		return nil, err
	}
	return provider.Document{
		"current":  map[string]any{"condition": "clear", "temperature": 18.5},
		"forecast": map[string]any{"high": 21.0, "low": 12.0, "precipitation_chance": 10.0},
	}, nil
}

func (f *fakeProviders) Tips(_ context.Context, _ string, n int) ([]string, error) {
	return []string{"tip"}[:min(n, 1)], nil
}

func (f *fakeProviders) Summarize(context.Context, string) (string, error) {
	if err := f.failing("summary"); err != nil {
		return "", err
	}
	return " You lead on photos. ", nil
}

type fixture struct {
	dir       *directory.Memory
	providers *fakeProviders
	snapshots *snapshot.MemoryStore
	insights  *insight.MemoryStore
	deps      *Deps
	tracker   *jobstore.Tracker
	engine    *pipeline.Engine
}

func newFixture(tier string) *fixture {
	dir := directory.NewMemory()
	dir.AddTenant(model.Tenant{ID: "T1", Name: "Tenant", Tier: tier})
	dir.AddTenant(model.Tenant{ID: "T2", Name: "Other", Tier: tier})
	dir.AddLocation(model.Location{
		ID:        "L1",
		TenantID:  "T1",
		Name:      "Home",
		PlaceID:   "place-home",
		Latitude:  40.7,
		Longitude: -74,
		Keywords:  []string{"pizza", "pasta", "salad", "wine", "dessert", "coffee", "brunch"},
	})
	dir.AddLocation(model.Location{ID: "L2", TenantID: "T1", Name: "Nowhere"})

	fp := newFakeProviders()
	snaps := snapshot.NewMemoryStore()
	ins := insight.NewMemoryStore()
	tr := jobstore.NewTracker(nil, jobstore.TrackerOptions{})

	deps := &Deps{
		Directory: dir,
		Providers: provider.Set{Scraper: fp, SEO: fp, Events: fp, Places: fp, Weather: fp, Generative: fp},
		Recorder:  snapshot.NewRecorder(snaps, snapshot.NewMemoryLocker(), nil, snapshot.RecorderOptions{}),
		Snapshots: snaps,
		Generator: insight.NewGenerator(insight.NewEvaluator(nil), ins),
		Tiers:     config.DefaultTiers(),
	}
	return &fixture{
		dir:       dir,
		providers: fp,
		snapshots: snaps,
		insights:  ins,
		deps:      deps,
		tracker:   tr,
		engine:    pipeline.NewEngine(tr),
	}
}

func (f *fixture) addCompetitors(names ...string) {
	for _, name := range names {
		key := strings.ToLower(name)
		f.dir.AddCompetitor(model.Competitor{
			ID:         "C-" + key,
			TenantID:   "T1",
			LocationID: "L1",
			Name:       name,
			Website:    "https://www." + key + ".example",
			PlaceID:    "place-" + key,
		})
	}
}

func (f *fixture) run(t *testing.T, pt model.PipelineType, now time.Time) (*model.Job, *transport.Recorder) {
	t.Helper()
	ctx := context.Background()

	launcher, ok := NewRegistry(f.deps).Get(pt)
	if !ok {
		t.Fatalf("pipeline %s not registered", pt)
	}
	plan, err := launcher.Prepare(ctx, pipeline.Request{TenantID: "T1", LocationID: "L1", Now: now})
	if err != nil {
		t.Fatalf("Prepare(%s) error: %v", pt, err)
	}

	job := f.tracker.CreateJob(ctx, "T1", "L1", pt, plan.StepList())
	rec := transport.NewRecorder()
	rec.Emit(model.EventInit, model.InitEvent{JobID: job.ID, Steps: job.Steps})
	f.engine.Execute(ctx, job, plan, rec)

	stored, err := f.tracker.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	return stored, rec
}

func TestWeather_EventSequence(t *testing.T) {
	f := newFixture("pro")
	job, rec := f.run(t, model.PipelineWeather, tuesday)

	want := []string{model.EventInit, model.EventStep, model.EventStep, model.EventDone}
	if got := rec.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	var init model.InitEvent
	if err := rec.Decode(0, &init); err != nil {
		t.Fatal(err)
	}
	if len(init.Steps) != 1 || init.Steps[0].Status != model.StepQueued || init.Steps[0].Name != "fetch_weather" {
		t.Errorf("unexpected init steps %+v", init.Steps)
	}

	var running, complete model.StepEvent
	if err := rec.Decode(1, &running); err != nil {
		t.Fatal(err)
	}
	if err := rec.Decode(2, &complete); err != nil {
		t.Fatal(err)
	}
	if running.Index != 0 || running.Step.Status != model.StepRunning || running.Progress != 0 {
		t.Errorf("unexpected running event %+v", running)
	}
	if complete.Index != 0 || complete.Step.Status != model.StepComplete || complete.Progress != 100 {
		t.Errorf("unexpected complete event %+v", complete)
	}

	var done model.DoneEvent
	if err := rec.Decode(3, &done); err != nil {
		t.Fatal(err)
	}
	if done.Status != model.JobCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.Warnings == nil || len(done.Warnings) != 0 {
		t.Errorf("warnings = %#v, want empty list", done.Warnings)
	}
	if done.RedirectURL != "/weather?location_id=L1" {
		t.Errorf("redirect = %q", done.RedirectURL)
	}

	if job.Status != model.JobCompleted {
		t.Errorf("stored status = %s", job.Status)
	}
	if f.snapshots.Count() != 1 {
		t.Errorf("expected one weather snapshot, got %d", f.snapshots.Count())
	}
}

func TestContent_FanOutContinuesPastFailingCompetitor(t *testing.T) {
	f := newFixture("pro")
	f.addCompetitors("Alpha", "Bravo", "Charlie")
	f.providers.fail["https://www.bravo.example"] = true

	job, _ := f.run(t, model.PipelineContent, tuesday)

	if job.Status != model.JobCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if want := []string{"Content scrape failed for Bravo"}; !reflect.DeepEqual(job.Result.Warnings, want) {
		t.Errorf("warnings = %v, want %v", job.Result.Warnings, want)
	}
	if f.snapshots.Count() != 2 {
		t.Errorf("expected snapshots for the two healthy competitors, got %d", f.snapshots.Count())
	}
	for _, id := range []string{"C-alpha", "C-charlie"} {
		snap, err := f.snapshots.Latest(context.Background(), id, model.SnapshotWebContent)
		if err != nil || snap == nil {
			t.Errorf("missing snapshot for %s (err %v)", id, err)
		}
	}
	if job.Result.RedirectURL != "/competitors?location_id=L1" {
		t.Errorf("redirect = %q", job.Result.RedirectURL)
	}
}

func TestContent_ChangeProducesInsightOnce(t *testing.T) {
	f := newFixture("pro")
	f.addCompetitors("Alpha")
	url := "https://www.alpha.example"
	ctx := context.Background()

	f.run(t, model.PipelineContent, monday)
	if n := len(mustRecent(t, f)); n != 0 {
		t.Fatalf("baseline run produced %d insights", n)
	}

	f.providers.menus[url] = []any{"burger", "fries", "milkshake"}
	f.run(t, model.PipelineContent, tuesday)
	first := mustRecent(t, f)
	if len(first) == 0 {
		t.Fatal("expected insights after the menu changed")
	}
	found := false
	for _, in := range first {
		if in.Rule == "menu_changed" && in.EntityID == "C-alpha" {
			found = true
		}
	}
	if !found {
		t.Errorf("menu_changed insight missing from %+v", first)
	}

	// same data again on the same day compares against today's snapshot
	f.run(t, model.PipelineContent, tuesday)
	if again := mustRecent(t, f); len(again) != len(first) {
		t.Errorf("rerun changed insight count from %d to %d", len(first), len(again))
	}

	snap, err := f.snapshots.Latest(ctx, "C-alpha", model.SnapshotWebContent)
	if err != nil || snap.Data["menu_item_count"] != 3.0 {
		t.Errorf("unexpected latest snapshot %+v (err %v)", snap, err)
	}
}

func mustRecent(t *testing.T, f *fixture) []*model.Insight {
	t.Helper()
	list, err := f.insights.ListRecent(context.Background(), "L1", 100)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestEvents_FatalFailureLeavesRemainingStepsQueued(t *testing.T) {
	f := newFixture("pro")
	f.providers.fail["events"] = true

	job, rec := f.run(t, model.PipelineEvents, tuesday)

	if job.Status != model.JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Result.Error != "Event discovery failed for Home" {
		t.Errorf("error = %q", job.Result.Error)
	}
	if job.Steps[0].Status != model.StepFailed {
		t.Errorf("first step = %s, want failed", job.Steps[0].Status)
	}
	for _, s := range job.Steps[1:] {
		if s.Status != model.StepQueued {
			t.Errorf("step %s = %s, want queued", s.Name, s.Status)
		}
	}
	if names := rec.Names(); names[len(names)-1] != model.EventDone {
		t.Errorf("last event = %s, want done", names[len(names)-1])
	}
}

func TestVisibility_CapsKeywordsByTier(t *testing.T) {
	f := newFixture("free")
	f.addCompetitors("Alpha")

	job, _ := f.run(t, model.PipelineVisibility, tuesday)
	if job.Status != model.JobCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if len(f.providers.keywords) != 5 {
		t.Errorf("keywords = %v, want the first 5", f.providers.keywords)
	}
	// the location has no website, so only the competitor is ranked
	if !reflect.DeepEqual(f.providers.domains, []string{"alpha.example"}) {
		t.Errorf("domains = %v", f.providers.domains)
	}
}

func TestPrepare_SetupErrors(t *testing.T) {
	f := newFixture("pro")
	f.dir.AddLocation(model.Location{ID: "L9", TenantID: "T2", Name: "Foreign", Latitude: 1, Longitude: 1})
	reg := NewRegistry(f.deps)
	ctx := context.Background()

	tests := []struct {
		name     string
		pt       model.PipelineType
		tenant   string
		location string
		wantErr  error
	}{
		{"unknown location", model.PipelineWeather, "T1", "missing", directory.ErrNotFound},
		{"location of another tenant", model.PipelineWeather, "T1", "L9", ErrLocationNotInTenant},
		{"weather without coordinates", model.PipelineWeather, "T1", "L2", ErrNoCoordinates},
		{"events without coordinates", model.PipelineEvents, "T1", "L2", ErrNoCoordinates},
		{"content without websites", model.PipelineContent, "T1", "L2", pipeline.ErrNoSteps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			launcher, _ := reg.Get(tt.pt)
			_, err := launcher.Prepare(ctx, pipeline.Request{TenantID: tt.tenant, LocationID: tt.location, Now: tuesday})
			if !pipeline.IsSetupError(err) {
				t.Fatalf("expected setup error, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefreshAll_IncludesOnlyDuePipelines(t *testing.T) {
	f := newFixture("free")
	launcher, _ := NewRegistry(f.deps).Get(model.PipelineRefreshAll)

	plan, err := launcher.Prepare(context.Background(), pipeline.Request{TenantID: "T1", LocationID: "L1", Now: tuesday})
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	var names []string
	for _, s := range plan.Steps {
		names = append(names, s.Name)
	}
	want := []string{
		"events.discover_events",
		"events.save_snapshots",
		"events.generate_insights",
		"weather.fetch_weather",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("steps = %v, want %v", names, want)
	}
	if plan.RedirectURL != "/dashboard?location_id=L1" {
		t.Errorf("redirect = %q", plan.RedirectURL)
	}
}

func TestRefreshAll_WeeklyDayRunsEverythingAvailable(t *testing.T) {
	f := newFixture("free")
	f.addCompetitors("Alpha")

	job, _ := f.run(t, model.PipelineRefreshAll, monday)
	if job.Status != model.JobCompleted {
		t.Fatalf("status = %s (%v)", job.Status, job.Result)
	}

	prefixes := map[string]bool{}
	for _, s := range job.Steps {
		prefixes[strings.SplitN(s.Name, ".", 2)[0]] = true
		if s.Status != model.StepComplete {
			t.Errorf("step %s = %s", s.Name, s.Status)
		}
	}
	for _, pt := range []string{"content", "visibility", "events", "weather", "insights"} {
		if !prefixes[pt] {
			t.Errorf("missing %s steps", pt)
		}
	}
	if prefixes["photos"] || prefixes["busy_times"] {
		t.Error("free tier should not include photos or busy_times")
	}
	if last := job.Steps[len(job.Steps)-1].Name; last != "insights.summarize" {
		t.Errorf("last step = %s, want insights.summarize", last)
	}
}

func TestInsights_RecordsComparisonAndSummaryCard(t *testing.T) {
	f := newFixture("pro")
	f.addCompetitors("Alpha", "Bravo")
	f.run(t, model.PipelinePhotos, tuesday)
	f.run(t, model.PipelineBusyTimes, tuesday)

	job, rec := f.run(t, model.PipelineInsights, tuesday)
	if job.Status != model.JobCompleted {
		t.Fatalf("status = %s (%v)", job.Status, job.Result)
	}

	snap, err := f.snapshots.Latest(context.Background(), "L1", model.SnapshotCompetitive)
	if err != nil || snap == nil {
		t.Fatalf("missing competitive snapshot (err %v)", err)
	}
	if snap.Data["competitors"] != 2.0 {
		t.Errorf("competitors = %v", snap.Data["competitors"])
	}
	if _, ok := snap.Data["most_photos"]; !ok {
		t.Errorf("comparison missing most_photos: %v", snap.Data)
	}

	found := false
	for i, ev := range rec.Events() {
		if ev.Name != model.EventCard {
			continue
		}
		var card model.AmbientCard
		if err := rec.Decode(i, &card); err != nil {
			t.Fatal(err)
		}
		if card.Category == "summary" && card.Text == "You lead on photos." {
			found = true
		}
	}
	if !found {
		t.Error("expected a summary card")
	}
}

func TestInsights_SummaryFailureIsAWarning(t *testing.T) {
	f := newFixture("pro")
	f.run(t, model.PipelineWeather, tuesday)
	f.providers.fail["summary"] = true

	// weather is not compared, so there is nothing to analyze yet
	job, _ := f.run(t, model.PipelineInsights, tuesday)
	if job.Status != model.JobFailed || job.Result.Error != "No data collected yet for Home" {
		t.Fatalf("unexpected result %s %+v", job.Status, job.Result)
	}

	f.run(t, model.PipelinePhotos, tuesday)
	job, _ = f.run(t, model.PipelineInsights, tuesday)
	if job.Status != model.JobCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if want := []string{"Summary unavailable for Home"}; !reflect.DeepEqual(job.Result.Warnings, want) {
		t.Errorf("warnings = %v, want %v", job.Result.Warnings, want)
	}
}
