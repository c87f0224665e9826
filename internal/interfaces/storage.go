package interfaces

import (
	"context"

	"github.com/ternarybob/vigil/internal/models"
)

// JobListOptions filters and pages job listings
type JobListOptions struct {
	Status string
	Owner  string
	Limit  int
	Offset int
}

// JobStorage is the durable record of job state - the single source of
// truth for recovery. All mutation is single-job; no cross-job
// transactions are required of implementations.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error

	// ClaimQuotaRollback atomically sets the job's QuotaRolledBack flag.
	// Returns true if this caller won the claim, false if the job was
	// already rolled back. Recovery uses this to stay idempotent.
	ClaimQuotaRollback(ctx context.Context, jobID string) (bool, error)
}

// FindingStorage persists deduplicated findings for completed scans
type FindingStorage interface {
	SaveFindings(ctx context.Context, jobID string, findings []models.Finding) error
	GetFindings(ctx context.Context, jobID string) ([]models.Finding, error)
	DeleteFindings(ctx context.Context, jobID string) error
}

// StorageManager aggregates the storage interfaces behind one connection
type StorageManager interface {
	JobStorage() JobStorage
	FindingStorage() FindingStorage
	Close() error
}
