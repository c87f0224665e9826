package scan

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// Sweeper reconciles jobs stuck in RUNNING with reality. Startup
// recovery handles jobs orphaned by a crash; the periodic sweep handles
// jobs that wedged without a restart. Both force the job to FAILED so
// every job eventually reaches a terminal state.
type Sweeper struct {
	jobs        interfaces.JobStorage
	quota       interfaces.QuotaService
	broadcaster Broadcaster
	staleAfter  time.Duration
	schedule    string
	logger      arbor.ILogger

	cron *cron.Cron
}

// NewSweeper creates a new recovery sweeper
func NewSweeper(jobs interfaces.JobStorage, quota interfaces.QuotaService, broadcaster Broadcaster, staleAfter time.Duration, schedule string, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		jobs:        jobs,
		quota:       quota,
		broadcaster: broadcaster,
		staleAfter:  staleAfter,
		schedule:    schedule,
		logger:      logger,
	}
}

// Start runs startup recovery immediately, then schedules the periodic
// stuck-job sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	if err := s.RecoverOrphans(ctx); err != nil {
		return err
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.SweepStale(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Stuck-job sweep failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.schedule).
		Str("stale_after", s.staleAfter.String()).
		Msg("Recovery sweeper started")

	return nil
}

// Stop stops the periodic sweep
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RecoverOrphans fails every job persisted as RUNNING. At process start
// no in-memory worker owns anything, so a RUNNING record can only be a
// job orphaned by a prior crash. Each orphan's owner gets exactly one
// compensating quota rollback, guarded by a persisted claim so a job is
// never rolled back twice across restarts or racing sweeps. One job's
// failure never blocks the rest.
func (s *Sweeper) RecoverOrphans(ctx context.Context) error {
	orphans, err := s.jobs.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		s.logger.Info().Msg("Startup recovery: no orphaned jobs")
		return nil
	}

	s.logger.Warn().
		Int("count", len(orphans)).
		Msg("Startup recovery: failing orphaned jobs")

	for _, job := range orphans {
		s.recoverOrphan(ctx, job)
	}

	return nil
}

func (s *Sweeper) recoverOrphan(ctx context.Context, job *models.Job) {
	reason := "scan interrupted by server restart"

	job.MarkFailed(reason)
	if job.Result == nil {
		job.Result = &models.ScanResult{Error: reason}
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to persist orphan recovery")
		return
	}

	// Claim before rolling back: the claim is the idempotency guard, the
	// rollback is the side effect.
	claimed, err := s.jobs.ClaimQuotaRollback(ctx, job.ID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to claim quota rollback")
	} else if claimed {
		if err := s.quota.Rollback(ctx, job.OwnerID, job.ID); err != nil {
			s.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Str("owner_id", job.OwnerID).
				Msg("Quota rollback failed")
		} else {
			s.logger.Info().
				Str("job_id", job.ID).
				Str("owner_id", job.OwnerID).
				Msg("Quota rolled back for interrupted job")
		}
	}

	s.broadcaster.Publish(job.ID, models.JobEvent{
		Type:    models.EventFailed,
		JobID:   job.ID,
		Percent: job.Progress,
		Message: reason,
		Error:   reason,
	})

	s.logger.Info().
		Str("job_id", job.ID).
		Msg("Orphaned job failed by startup recovery")
}

// SweepStale fails jobs that have been RUNNING longer than the
// staleness threshold, measured from creation time. A safety net for
// jobs wedged without a restart; no quota compensation here - the scan
// consumed real work before it stalled.
func (s *Sweeper) SweepStale(ctx context.Context) error {
	running, err := s.jobs.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.staleAfter)
	swept := 0
	for _, job := range running {
		if job.CreatedAt.After(cutoff) {
			continue
		}

		reason := "scan timed out"
		job.MarkFailed(reason)
		if job.Result == nil {
			job.Result = &models.ScanResult{Error: reason}
		}
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			s.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to persist stale-job sweep")
			continue
		}

		s.broadcaster.Publish(job.ID, models.JobEvent{
			Type:    models.EventFailed,
			JobID:   job.ID,
			Percent: job.Progress,
			Message: reason,
			Error:   reason,
		})

		s.logger.Warn().
			Str("job_id", job.ID).
			Str("created_at", job.CreatedAt.Format(time.RFC3339)).
			Msg("Stale job failed by periodic sweep")
		swept++
	}

	if swept > 0 {
		s.logger.Info().
			Int("swept", swept).
			Int("running", len(running)).
			Msg("Stuck-job sweep complete")
	}

	return nil
}
