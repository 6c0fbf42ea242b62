package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxListedJobs bounds list queries on the jobs collection
const maxListedJobs = 50

// JobRepository persists pipeline job records in MongoDB
type JobRepository struct {
	collection *mongo.Collection
}

var _ jobstore.Store = (*JobRepository)(nil)

// NewJobRepository creates a new job repository
func NewJobRepository(db *MongoDB) *JobRepository {
	return &JobRepository{
		collection: db.GetCollection(CollectionJobs),
	}
}

// Create inserts a new job record
func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.collection.InsertOne(ctxTimeout, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get retrieves a job by id
func (r *JobRepository) Get(ctx context.Context, jobID string) (*model.Job, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var job model.Job
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, jobstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateStep applies one step transition. The legal predecessor status is part
// of the filter so an illegal transition never matches, and current_step only
// moves forward via $max.
func (r *JobRepository) UpdateStep(ctx context.Context, jobID string, index int, status model.StepStatus, errMsg string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var from model.StepStatus
	switch status {
	case model.StepRunning:
		from = model.StepQueued
	case model.StepComplete, model.StepFailed:
		from = model.StepRunning
	default:
		return fmt.Errorf("%w: cannot set step to %s", jobstore.ErrInvalidTransition, status)
	}

	prefix := "steps." + strconv.Itoa(index)
	set := bson.M{
		prefix + ".status": status,
		"updated_at":       time.Now().UTC(),
	}
	if status == model.StepFailed {
		set[prefix+".error"] = errMsg
	}

	filter := bson.M{
		"_id":              jobID,
		"status":           model.JobRunning,
		prefix + ".status": from,
	}
	update := bson.M{
		"$set": set,
		"$max": bson.M{"current_step": index},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := r.Get(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("%w: step %d to %s", jobstore.ErrInvalidTransition, index, status)
	}
	return nil
}

// Finalize sets the terminal status and result of a running job
func (r *JobRepository) Finalize(ctx context.Context, jobID string, status model.JobStatus, result model.JobResult) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if !status.IsTerminal() {
		return jobstore.ErrInvalidTransition
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}

	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"result":     result,
			"updated_at": time.Now().UTC(),
		},
	}
	res, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": jobID, "status": model.JobRunning}, update)
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	job, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	_, err = jobstore.CheckFinalize(job.Status, status)
	return err
}

// ListActive returns running jobs for a tenant, newest first
func (r *JobRepository) ListActive(ctx context.Context, tenantID string) ([]*model.Job, error) {
	return r.list(ctx, bson.M{
		"tenant_id": tenantID,
		"status":    model.JobRunning,
	})
}

// ListRecent returns running jobs plus jobs updated since the cutoff
func (r *JobRepository) ListRecent(ctx context.Context, tenantID string, since time.Time) ([]*model.Job, error) {
	return r.list(ctx, bson.M{
		"tenant_id": tenantID,
		"$or": []bson.M{
			{"status": model.JobRunning},
			{"updated_at": bson.M{"$gte": since}},
		},
	})
}

// MarkStale fails a running job whose last update is older than before
func (r *JobRepository) MarkStale(ctx context.Context, jobID string, before time.Time, reason string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"_id":        jobID,
		"status":     model.JobRunning,
		"updated_at": bson.M{"$lt": before},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     model.JobFailed,
			"result":     model.JobResult{Warnings: []string{}, Error: reason},
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark job stale: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *JobRepository) list(ctx context.Context, filter bson.M) ([]*model.Job, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetLimit(maxListedJobs).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	jobs := make([]*model.Job, 0)
	if err := cursor.All(ctxTimeout, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}
