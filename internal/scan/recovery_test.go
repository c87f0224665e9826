package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/models"
)

func newTestSweeper(jobs *memJobStorage, quota *memQuota, broadcaster *memBroadcaster) *Sweeper {
	return NewSweeper(jobs, quota, broadcaster, 45*time.Minute, "@every 5m", common.GetLogger())
}

func runningJob(id string, age time.Duration) *models.Job {
	started := time.Now().Add(-age)
	return &models.Job{
		ID:        id,
		OwnerID:   "usr_1",
		Target:    "example.com",
		Status:    models.JobStatusRunning,
		CreatedAt: time.Now().Add(-age),
		StartedAt: &started,
	}
}

func TestRecoverOrphans_FailsRunningJobs(t *testing.T) {
	jobs := newMemJobStorage()
	quota := newMemQuota()
	broadcaster := &memBroadcaster{}
	sweeper := newTestSweeper(jobs, quota, broadcaster)

	jobs.put(runningJob("job_1", 5*time.Minute))
	jobs.put(runningJob("job_2", 2*time.Minute))
	completed := pendingJob("job_3")
	completed.MarkCompleted(&models.ScanResult{Score: 90, Grade: "A"})
	jobs.put(completed)

	require.NoError(t, sweeper.RecoverOrphans(context.Background()))

	for _, id := range []string{"job_1", "job_2"} {
		job, err := jobs.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Contains(t, job.Error, "interrupted")
		assert.Equal(t, 1, quota.rollbackCount(id))
	}

	// Terminal jobs are untouched
	job, _ := jobs.GetJob(context.Background(), "job_3")
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, quota.rollbackCount("job_3"))

	assert.Len(t, broadcaster.eventsOfType(models.EventFailed), 2)
}

func TestRecoverOrphans_RollbackExactlyOnce(t *testing.T) {
	jobs := newMemJobStorage()
	quota := newMemQuota()
	sweeper := newTestSweeper(jobs, quota, &memBroadcaster{})

	jobs.put(runningJob("job_1", 5*time.Minute))

	require.NoError(t, sweeper.RecoverOrphans(context.Background()))
	require.NoError(t, sweeper.RecoverOrphans(context.Background()))

	assert.Equal(t, 1, quota.rollbackCount("job_1"))
}

func TestRecoverOrphans_RacingSweepsRollbackOnce(t *testing.T) {
	jobs := newMemJobStorage()
	quota := newMemQuota()
	broadcaster := &memBroadcaster{}

	jobs.put(runningJob("job_race", 5*time.Minute))

	// Both sweepers list the job as RUNNING before either has written;
	// the persisted claim must still dedupe the rollback.
	orphans, err := jobs.GetJobsByStatus(context.Background(), models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	sweeperA := newTestSweeper(jobs, quota, broadcaster)
	sweeperB := newTestSweeper(jobs, quota, broadcaster)

	var wg sync.WaitGroup
	for _, s := range []*Sweeper{sweeperA, sweeperB} {
		wg.Add(1)
		go func(s *Sweeper) {
			defer wg.Done()
			job := *orphans[0]
			s.recoverOrphan(context.Background(), &job)
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 1, quota.rollbackCount("job_race"))
}

func TestRecoverOrphans_OneFailureDoesNotBlockRest(t *testing.T) {
	jobs := newMemJobStorage()
	quota := newMemQuota()
	quota.err = assert.AnError
	sweeper := newTestSweeper(jobs, quota, &memBroadcaster{})

	jobs.put(runningJob("job_1", time.Minute))
	jobs.put(runningJob("job_2", time.Minute))

	require.NoError(t, sweeper.RecoverOrphans(context.Background()))

	for _, id := range []string{"job_1", "job_2"} {
		job, _ := jobs.GetJob(context.Background(), id)
		assert.Equal(t, models.JobStatusFailed, job.Status)
	}
}

func TestSweepStale_FailsOldRunningJobs(t *testing.T) {
	jobs := newMemJobStorage()
	quota := newMemQuota()
	broadcaster := &memBroadcaster{}
	sweeper := newTestSweeper(jobs, quota, broadcaster)

	jobs.put(runningJob("job_old", 50*time.Minute))
	jobs.put(runningJob("job_fresh", 10*time.Minute))

	require.NoError(t, sweeper.SweepStale(context.Background()))

	old, _ := jobs.GetJob(context.Background(), "job_old")
	assert.Equal(t, models.JobStatusFailed, old.Status)
	assert.Equal(t, "scan timed out", old.Error)

	fresh, _ := jobs.GetJob(context.Background(), "job_fresh")
	assert.Equal(t, models.JobStatusRunning, fresh.Status)

	// The periodic sweep does not compensate quota
	assert.Equal(t, 0, quota.rollbackCount("job_old"))
	assert.Len(t, broadcaster.eventsOfType(models.EventFailed), 1)
}
