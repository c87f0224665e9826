package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/models"
	"golang.org/x/time/rate"
)

// ErrFatal marks handler failures that must not be retried. The worker
// settles the message instead of releasing it for redelivery.
var ErrFatal = errors.New("fatal")

// Handler processes one claimed job message
type Handler func(ctx context.Context, msg *models.QueueMessage) error

// retryBaseDelay seeds the exponential redelivery backoff
const retryBaseDelay = 30 * time.Second

// WorkerPool consumes the durable queue with a bounded number of
// concurrent slots. Job starts are additionally rate-limited to bound
// load on the external probe tools.
type WorkerPool struct {
	queueMgr *Manager
	handler  Handler
	logger   arbor.ILogger

	concurrency  int
	pollInterval time.Duration
	limiter      *rate.Limiter

	// pollCtx only governs claiming: the poll loops, Receive and the
	// rate limiter wait. Handlers never see it, so cancelling it drains
	// in-flight jobs instead of aborting them.
	pollCtx    context.Context
	pollCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queueMgr *Manager, config Config, handler Handler, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	starts := config.StartsPerMinute
	if starts <= 0 {
		starts = 10
	}

	return &WorkerPool{
		queueMgr:     queueMgr,
		handler:      handler,
		logger:       logger,
		concurrency:  config.Concurrency,
		pollInterval: config.PollInterval,
		limiter:      rate.NewLimiter(rate.Limit(float64(starts)/60.0), starts),
		pollCtx:      ctx,
		pollCancel:   cancel,
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully stops the worker pool. Only polling is cancelled; a
// slot holding a claimed job keeps running it on its own context, so
// Stop blocks until every in-flight scan has finished and settled.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.pollCancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("Worker pool stopped")
}

// worker is the main polling loop for one slot
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger slot starts to reduce claim contention
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-wp.pollCtx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.pollCtx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil && !errors.Is(err, ErrNoMessage) {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing message")
			}
		}
	}
}

// processMessage claims and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, err := wp.queueMgr.Receive(wp.pollCtx)
	if err != nil {
		return err
	}

	// The start rate cap applies once a job is claimed. The lease is
	// hours long, so a short wait here is harmless.
	if err := wp.limiter.Wait(wp.pollCtx); err != nil {
		// Shutting down; release immediately so another slot picks it up
		if relErr := wp.queueMgr.Release(context.Background(), msg.ID, 0); relErr != nil {
			wp.logger.Warn().Err(relErr).Str("job_id", msg.Body.JobID).Msg("Failed to release message on shutdown")
		}
		return err
	}

	wp.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", msg.Body.JobID).
		Str("target", msg.Body.Target).
		Int("receive_count", msg.ReceiveCount).
		Msg("Processing job")

	// The job context outlives the poll context: a graceful Stop must
	// not abort a claimed scan, and settlement below must still work
	// after polling has been cancelled.
	jobCtx := context.Background()

	startTime := time.Now()
	handlerErr := wp.handler(jobCtx, &msg.Body)
	duration := time.Since(startTime)

	if handlerErr != nil {
		if errors.Is(handlerErr, ErrFatal) {
			wp.logger.Error().
				Err(handlerErr).
				Str("job_id", msg.Body.JobID).
				Int("worker_id", workerID).
				Msg("Job rejected, not retrying")
			if err := wp.queueMgr.Delete(jobCtx, msg.ID); err != nil {
				wp.logger.Warn().Err(err).Str("job_id", msg.Body.JobID).Msg("Failed to delete rejected message")
			}
			return handlerErr
		}

		// Retryable: release with exponential backoff. Receive
		// dead-letters the message once its delivery budget is spent.
		delay := retryBaseDelay << (msg.ReceiveCount - 1)
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", msg.Body.JobID).
			Dur("duration", duration).
			Dur("retry_delay", delay).
			Int("worker_id", workerID).
			Msg("Job failed, scheduling redelivery")
		if err := wp.queueMgr.Release(jobCtx, msg.ID, delay); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", msg.Body.JobID).Msg("Failed to release message for retry")
		}
		return handlerErr
	}

	wp.logger.Info().
		Str("job_id", msg.Body.JobID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed successfully")

	if err := wp.queueMgr.Delete(jobCtx, msg.ID); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.Body.JobID).
			Msg("Failed to delete message after successful processing")
		return err
	}

	return nil
}
