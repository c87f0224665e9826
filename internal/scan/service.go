package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/queue"
)

// Service is the inbound edge of the scan subsystem: it accepts scan
// requests, records them and hands them to the queue. Quota is consumed
// here, before anything durable exists for the job.
type Service struct {
	jobs     interfaces.JobStorage
	findings interfaces.FindingStorage
	quota    interfaces.QuotaService
	queueMgr *queue.Manager
	logger   arbor.ILogger
}

// NewService creates a new scan service
func NewService(jobs interfaces.JobStorage, findings interfaces.FindingStorage, quota interfaces.QuotaService, queueMgr *queue.Manager, logger arbor.ILogger) *Service {
	return &Service{
		jobs:     jobs,
		findings: findings,
		quota:    quota,
		queueMgr: queueMgr,
		logger:   logger,
	}
}

// CreateJob consumes one unit of the owner's quota, persists a PENDING
// job and enqueues it. If the enqueue fails the quota unit is returned;
// a stranded PENDING record costs the owner nothing and is harmless.
func (s *Service) CreateJob(ctx context.Context, ownerID, target string) (*models.Job, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}

	if err := s.quota.Decrement(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("quota check failed: %w", err)
	}

	job := &models.Job{
		ID:        common.NewJobID(),
		OwnerID:   ownerID,
		Target:    target,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.rollbackQuota(ctx, job)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.queueMgr.Enqueue(ctx, models.QueueMessage{JobID: job.ID, Target: job.Target}); err != nil {
		s.rollbackQuota(ctx, job)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", ownerID).
		Str("target", target).
		Msg("Scan job created")

	return job, nil
}

func (s *Service) rollbackQuota(ctx context.Context, job *models.Job) {
	if err := s.quota.Rollback(ctx, job.OwnerID, job.ID); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("owner_id", job.OwnerID).
			Msg("Failed to return quota after create failure")
	}
}

// GetJob returns one job by id
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the given filter
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.jobs.ListJobs(ctx, opts)
}

// GetFindings returns the persisted findings for one job
func (s *Service) GetFindings(ctx context.Context, jobID string) ([]models.Finding, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.findings.GetFindings(ctx, jobID)
}
