package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/queue"
)

// ErrJobNotProcessable marks a claimed message whose job cannot be run:
// the record is gone or already terminal. Wraps the queue's fatal
// sentinel so the worker settles the message instead of retrying it.
var ErrJobNotProcessable = fmt.Errorf("job not processable: %w", queue.ErrFatal)

// ErrAllProbesFailed is returned when no probe produced a usable result.
// Retryable: a transient network outage should not permanently fail the
// job on the first delivery.
var ErrAllProbesFailed = errors.New("all probes failed")

// persistEvery is the progress delta that forces a durable write in
// addition to the broadcast
const persistEvery = 10

// Broadcaster is the slice of the event service the orchestrator needs
type Broadcaster interface {
	PublishProgress(ctx context.Context, jobID string, percent int, message string, skipStore bool)
	Publish(jobID string, event models.JobEvent)
}

// Orchestrator drives one scan job from claimed message to terminal
// state: entry guard, concurrent probe fan-out, dedupe, scoring,
// persistence. It is the queue worker's handler.
type Orchestrator struct {
	jobs         interfaces.JobStorage
	findings     interfaces.FindingStorage
	broadcaster  Broadcaster
	probes       []interfaces.Probe
	deduper      *Deduper
	probeTimeout time.Duration
	logger       arbor.ILogger
}

// NewOrchestrator creates a new scan orchestrator
func NewOrchestrator(jobs interfaces.JobStorage, findings interfaces.FindingStorage, broadcaster Broadcaster, probes []interfaces.Probe, deduper *Deduper, probeTimeout time.Duration, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		jobs:         jobs,
		findings:     findings,
		broadcaster:  broadcaster,
		probes:       probes,
		deduper:      deduper,
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// probeOutcome is one probe's result after the join barrier
type probeOutcome struct {
	name     string
	findings []models.Finding
	err      error
}

// Process runs one claimed scan job to a terminal state. Safe to call
// again for the same job id after a crash mid-run: findings are
// replaced, not appended, and the terminal transition is written last.
func (o *Orchestrator) Process(ctx context.Context, msg *models.QueueMessage) error {
	job, err := o.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			o.logger.Warn().
				Str("job_id", msg.JobID).
				Msg("Claimed message references unknown job")
			return fmt.Errorf("%w: %s", ErrJobNotProcessable, msg.JobID)
		}
		return fmt.Errorf("failed to load job %s: %w", msg.JobID, err)
	}

	// Entry guard: a redelivered message for a finished job must not
	// re-run the scan or overwrite the stored result.
	if job.IsTerminal() {
		o.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Job already terminal, dropping message")
		return fmt.Errorf("%w: %s is %s", ErrJobNotProcessable, job.ID, job.Status)
	}

	job.MarkRunning()
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("target", job.Target).
		Int("probe_count", len(o.probes)).
		Msg("Scan started")

	// Broadcast every throttled update; persist only when progress has
	// advanced a full persistence step since the last durable write.
	lastPersisted := 0
	var persistMu sync.Mutex
	prog := newJobProgress(func(percent int, message string) {
		persistMu.Lock()
		skipStore := percent-lastPersisted < persistEvery && percent < 100
		if !skipStore {
			lastPersisted = percent
		}
		persistMu.Unlock()
		o.broadcaster.PublishProgress(ctx, job.ID, percent, message, skipStore)
	})

	prog.Set(progressProbesStart, "Preparing probes")

	outcomes := o.runProbes(ctx, job.Target, prog)

	summaries := make([]models.ProbeSummary, 0, len(outcomes))
	var collected []models.Finding
	succeeded := 0
	for _, outcome := range outcomes {
		summary := models.ProbeSummary{Probe: outcome.name}
		if outcome.err != nil {
			summary.Error = outcome.err.Error()
			o.logger.Warn().
				Err(outcome.err).
				Str("job_id", job.ID).
				Str("probe", outcome.name).
				Msg("Probe failed")
		} else {
			summary.Success = true
			summary.FindingCount = len(outcome.findings)
			collected = append(collected, outcome.findings...)
			succeeded++
		}
		summaries = append(summaries, summary)
	}

	// Partial failure is tolerated; total failure is not. A result built
	// from zero probes would score a perfect 100 for a target we never
	// actually inspected.
	if succeeded == 0 {
		// Keep the per-probe errors on the record so the owner can see
		// how each probe failed, not just that they all did.
		job.Result = &models.ScanResult{Error: "all probes failed", Probes: summaries}
		o.failJob(ctx, job, "all probes failed")
		return fmt.Errorf("job %s: %w", job.ID, ErrAllProbesFailed)
	}

	prog.Set(progressProbesEnd, "Aggregating findings")

	deduped := o.deduper.Dedupe(collected)
	now := time.Now()
	for i := range deduped {
		deduped[i].ID = common.NewFindingID()
		deduped[i].JobID = job.ID
		deduped[i].CreatedAt = now
	}

	// Replace, never append: a rerun after a mid-run crash must not
	// leave findings from the aborted attempt behind.
	if err := o.findings.DeleteFindings(ctx, job.ID); err != nil {
		o.failJob(ctx, job, "failed to store findings")
		return fmt.Errorf("failed to clear findings for job %s: %w", job.ID, err)
	}
	if err := o.findings.SaveFindings(ctx, job.ID, deduped); err != nil {
		o.failJob(ctx, job, "failed to store findings")
		return fmt.Errorf("failed to save findings for job %s: %w", job.ID, err)
	}

	result := Score(deduped)
	result.Probes = summaries

	job.MarkCompleted(result)
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		o.failJob(ctx, job, "failed to persist scan result")
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	// Terminal state is durable before anyone hears about it. A client
	// reacting to this event and fetching the job must see COMPLETED.
	o.broadcaster.Publish(job.ID, models.JobEvent{
		Type:    models.EventCompleted,
		JobID:   job.ID,
		Percent: 100,
		Message: "Scan complete",
		Result:  result,
	})

	o.logger.Info().
		Str("job_id", job.ID).
		Int("score", result.Score).
		Str("grade", result.Grade).
		Int("findings", len(deduped)).
		Int("probes_succeeded", succeeded).
		Int("probes_total", len(o.probes)).
		Msg("Scan completed")

	return nil
}

// runProbes fans the probes out concurrently and joins all of them.
// Each probe gets its own slice of the progress range and its own
// timeout; a panic inside a probe becomes a failed outcome, not a
// crashed worker.
func (o *Orchestrator) runProbes(ctx context.Context, target string, prog *jobProgress) []probeOutcome {
	outcomes := make([]probeOutcome, len(o.probes))

	var wg sync.WaitGroup
	for i, probe := range o.probes {
		wg.Add(1)
		go func(i int, probe interfaces.Probe) {
			defer wg.Done()
			findings, err := o.runProbe(ctx, probe, target, prog.ProbeSink(i, len(o.probes)))
			outcomes[i] = probeOutcome{name: probe.Name(), findings: findings, err: err}
		}(i, probe)
	}
	wg.Wait()

	return outcomes
}

func (o *Orchestrator) runProbe(ctx context.Context, probe interfaces.Probe, target string, sink interfaces.ProgressSink) (findings []models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe %s panicked: %v", probe.Name(), r)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	defer cancel()

	return probe.Run(probeCtx, target, sink)
}

// failJob writes the terminal failure best-effort and broadcasts it.
// Persistence failure here is logged, not returned - the caller's error
// drives the queue retry decision.
func (o *Orchestrator) failJob(ctx context.Context, job *models.Job, reason string) {
	job.MarkFailed(reason)
	if job.Result == nil {
		job.Result = &models.ScanResult{Error: reason}
	} else if job.Result.Error == "" {
		job.Result.Error = reason
	}
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		o.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to persist job failure")
	}

	o.broadcaster.Publish(job.ID, models.JobEvent{
		Type:    models.EventFailed,
		JobID:   job.ID,
		Percent: job.Progress,
		Message: reason,
		Error:   reason,
	})
}
