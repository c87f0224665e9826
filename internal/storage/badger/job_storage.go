package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes read-modify-write updates per process. BadgerHold has no
	// atomic field update, so ClaimQuotaRollback and progress writes go
	// through this lock to avoid lost updates between worker goroutines.
	mu sync.Mutex

	retries int
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger, retries int) interfaces.JobStorage {
	return &JobStorage{
		db:      db,
		logger:  logger,
		retries: retries,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	return withRetry(ctx, s.retries, func() error {
		if err := s.db.Store().Upsert(job.ID, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
		return nil
	})
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Owner != "" {
			query = query.And("OwnerID").Eq(opts.Owner)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return fmt.Errorf("failed to get job for progress update: %w", err)
	}

	// Progress never decreases within a run
	if progress > job.Progress {
		job.Progress = progress
	}
	if message != "" {
		job.ProgressMessage = message
	}

	return withRetry(ctx, s.retries, func() error {
		return s.db.Store().Upsert(job.ID, &job)
	})
}

func (s *JobStorage) ClaimQuotaRollback(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
		}
		return false, fmt.Errorf("failed to get job for rollback claim: %w", err)
	}

	if job.QuotaRolledBack {
		return false, nil
	}

	job.QuotaRolledBack = true
	if err := withRetry(ctx, s.retries, func() error {
		return s.db.Store().Upsert(job.ID, &job)
	}); err != nil {
		return false, fmt.Errorf("failed to persist rollback claim: %w", err)
	}

	return true, nil
}
