// Package orchestrator runs the daily refresh sweep across all locations.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/scout/internal/config"
	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/worker"
	"github.com/dandantas/scout/pkg/middleware"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Locker is a TTL advisory lock keyed by string
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// Dispatcher starts refresh_all for one location
type Dispatcher interface {
	StartRefresh(ctx context.Context, tenantID, locationID string) (string, error)
}

// Options configures the orchestrator
type Options struct {
	Enabled      bool
	Schedule     string
	TickInterval time.Duration
	LockTTL      time.Duration
	Members      []string
	ReplicaID    string
	Workers      int
	QueueSize    int
}

// SweepStats summarizes one sweep
type SweepStats struct {
	Locations int
	NotOwned  int
	NotDue    int
	Locked    int
	Submitted int
	Errors    int
}

// Orchestrator fires a sweep whenever the cron schedule comes due
type Orchestrator struct {
	opts      Options
	directory directory.Directory
	tiers     *config.Tiers
	locks     Locker
	pool      *worker.WorkerPool
	shard     *Shard
	schedule  cron.Schedule

	mu      sync.Mutex
	nextRun time.Time

	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates an orchestrator. The schedule is a five-field cron expression
// evaluated in UTC.
func New(opts Options, dir directory.Directory, tiers *config.Tiers, locks Locker, dispatcher Dispatcher) (*Orchestrator, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid orchestrator schedule %q: %w", opts.Schedule, err)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.ReplicaID == "" {
		opts.ReplicaID = uuid.New().String()
	}

	o := &Orchestrator{
		opts:      opts,
		directory: dir,
		tiers:     tiers,
		locks:     locks,
		shard:     NewShard(opts.Members),
		schedule:  schedule,
		stopChan:  make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}

	o.pool = worker.NewWorkerPool(opts.Workers, opts.QueueSize)
	o.pool.SetExecutor(func(ctx context.Context, job worker.Job) (string, error) {
		ctx = context.WithValue(ctx, middleware.CorrelationIDKey, job.CorrelationID)
		return dispatcher.StartRefresh(ctx, job.TenantID, job.LocationID)
	})
	o.pool.OnResult(o.handleResult)
	return o, nil
}

// Start begins the tick loop
func (o *Orchestrator) Start(ctx context.Context) {
	if !o.opts.Enabled {
		slog.Info("Orchestrator is disabled by configuration")
		return
	}

	o.mu.Lock()
	o.nextRun = o.schedule.Next(o.now())
	next := o.nextRun
	o.mu.Unlock()

	slog.Info("Starting orchestrator",
		"replica_id", o.opts.ReplicaID,
		"schedule", o.opts.Schedule,
		"next_run", next.Format(time.RFC3339),
		"members", len(o.opts.Members),
	)

	o.pool.Start()
	o.ticker = time.NewTicker(o.opts.TickInterval)
	o.wg.Add(1)
	go o.run(ctx)
}

// Stop ends the tick loop and drains dispatches already queued.
// Daily locks are kept so no other replica repeats today's runs.
func (o *Orchestrator) Stop(ctx context.Context) {
	if !o.opts.Enabled {
		return
	}

	slog.Info("Stopping orchestrator", "replica_id", o.opts.ReplicaID)
	close(o.stopChan)
	if o.ticker != nil {
		o.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timeout waiting for orchestrator sweep to finish")
	}

	o.pool.Stop(ctx)
	slog.Info("Orchestrator stopped", "replica_id", o.opts.ReplicaID)
}

// NextRun returns when the next sweep fires
func (o *Orchestrator) NextRun() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.nextRun
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-o.ticker.C:
			o.tick(ctx)
		case <-o.stopChan:
			return
		case <-ctx.Done():
			slog.Info("Orchestrator context done", "replica_id", o.opts.ReplicaID)
			return
		}
	}
}

// tick fires a sweep once the scheduled time has passed
func (o *Orchestrator) tick(ctx context.Context) {
	now := o.now()

	o.mu.Lock()
	due := !now.Before(o.nextRun)
	if due {
		o.nextRun = o.schedule.Next(now)
	}
	next := o.nextRun
	o.mu.Unlock()

	if !due {
		return
	}

	stats, err := o.Sweep(ctx, now)
	if err != nil {
		slog.Error("Orchestrator sweep failed", "error", err)
		return
	}
	slog.Info("Orchestrator sweep finished",
		"replica_id", o.opts.ReplicaID,
		"locations", stats.Locations,
		"submitted", stats.Submitted,
		"not_owned", stats.NotOwned,
		"not_due", stats.NotDue,
		"locked", stats.Locked,
		"errors", stats.Errors,
		"next_run", next.Format(time.RFC3339),
	)
}

// Sweep queues refresh_all for every location this replica owns and whose
// tier has a pipeline due today. Per-location failures are counted, never
// fatal to the sweep.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats

	locations, err := o.directory.AllLocations(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list locations: %w", err)
	}
	stats.Locations = len(locations)
	date := now.UTC().Format(time.DateOnly)
	tierOf := make(map[string]config.Tier)

	for _, loc := range locations {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if !o.shard.Owns(o.opts.ReplicaID, loc.ID) {
			stats.NotOwned++
			continue
		}

		tier, ok := tierOf[loc.TenantID]
		if !ok {
			tenant, err := o.directory.Tenant(ctx, loc.TenantID)
			if err != nil {
				slog.Error("Failed to load tenant for sweep",
					"tenant_id", loc.TenantID,
					"location_id", loc.ID,
					"error", err,
				)
				stats.Errors++
				continue
			}
			tier = o.tiers.Tier(tenant.Tier)
			tierOf[loc.TenantID] = tier
		}
		if !tier.AnyDue(now) {
			stats.NotDue++
			continue
		}

		key := LockKey(loc.ID, date)
		acquired, err := o.locks.Acquire(ctx, key, o.opts.ReplicaID, o.opts.LockTTL)
		if err != nil {
			slog.Error("Failed to acquire orchestrator lock", "key", key, "error", err)
			stats.Errors++
			continue
		}
		if !acquired {
			slog.Debug("Location already triggered today", "key", key)
			stats.Locked++
			continue
		}

		job := worker.Job{
			TenantID:      loc.TenantID,
			LocationID:    loc.ID,
			Date:          date,
			CorrelationID: uuid.New().String(),
		}
		if err := o.pool.Submit(job); err != nil {
			slog.Error("Failed to queue refresh", "location_id", loc.ID, "error", err)
			o.release(key)
			stats.Errors++
			continue
		}
		stats.Submitted++
	}
	return stats, nil
}

// handleResult logs each dispatch. A failed start frees the day's lock so a
// later sweep or another replica can retry the location.
func (o *Orchestrator) handleResult(r worker.Result) {
	if r.Err != nil {
		slog.Error("Orchestrated refresh failed to start",
			"tenant_id", r.Job.TenantID,
			"location_id", r.Job.LocationID,
			"correlation_id", r.Job.CorrelationID,
			"duration_ms", r.Duration.Milliseconds(),
			"error", r.Err,
		)
		o.release(LockKey(r.Job.LocationID, r.Job.Date))
		return
	}
	slog.Info("Orchestrated refresh started",
		"tenant_id", r.Job.TenantID,
		"location_id", r.Job.LocationID,
		"job_id", r.JobID,
		"correlation_id", r.Job.CorrelationID,
		"duration_ms", r.Duration.Milliseconds(),
	)
}

func (o *Orchestrator) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.locks.Release(ctx, key, o.opts.ReplicaID); err != nil {
		slog.Error("Failed to release orchestrator lock", "key", key, "error", err)
	}
}

// LockKey is the per-location-per-day lock key
func LockKey(locationID, date string) string {
	return "orchestrator:" + locationID + ":" + date
}
