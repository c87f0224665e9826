package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// memJobStorage is an in-memory JobStorage for tests
type memJobStorage struct {
	mu            sync.Mutex
	jobs          map[string]*models.Job
	saveErr       error
	saveErrOn     models.JobStatus // when set, saveErr applies only to saves of this status
	progressCalls int
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.Job)}
}

func (s *memJobStorage) put(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
}

func (s *memJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil && (s.saveErrOn == "" || job.Status == s.saveErrOn) {
		return s.saveErr
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	copied := *job
	return &copied, nil
}

func (s *memJobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memJobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memJobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressCalls++
	if job, ok := s.jobs[jobID]; ok && progress > job.Progress {
		job.Progress = progress
		job.ProgressMessage = message
	}
	return nil
}

func (s *memJobStorage) ClaimQuotaRollback(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	if job.QuotaRolledBack {
		return false, nil
	}
	job.QuotaRolledBack = true
	return true, nil
}

// memFindingStorage is an in-memory FindingStorage for tests
type memFindingStorage struct {
	mu       sync.Mutex
	findings map[string][]models.Finding
	saveErr  error
}

func newMemFindingStorage() *memFindingStorage {
	return &memFindingStorage{findings: make(map[string][]models.Finding)}
}

func (s *memFindingStorage) SaveFindings(ctx context.Context, jobID string, findings []models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.findings[jobID] = append(s.findings[jobID], findings...)
	return nil
}

func (s *memFindingStorage) GetFindings(ctx context.Context, jobID string) ([]models.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Finding(nil), s.findings[jobID]...), nil
}

func (s *memFindingStorage) DeleteFindings(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.findings, jobID)
	return nil
}

// memBroadcaster records published events
type memBroadcaster struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (b *memBroadcaster) PublishProgress(ctx context.Context, jobID string, percent int, message string, skipStore bool) {
	b.Publish(jobID, models.JobEvent{Type: models.EventProgress, JobID: jobID, Percent: percent, Message: message})
}

func (b *memBroadcaster) Publish(jobID string, event models.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *memBroadcaster) eventsOfType(eventType models.EventType) []models.JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.JobEvent
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeProbe returns canned findings or a canned error
type fakeProbe struct {
	name     string
	findings []models.Finding
	err      error
	panics   bool
}

func (p *fakeProbe) Name() string { return p.name }

func (p *fakeProbe) Run(ctx context.Context, target string, sink interfaces.ProgressSink) ([]models.Finding, error) {
	if p.panics {
		panic("probe exploded")
	}
	sink.Report(50, "halfway")
	if p.err != nil {
		return nil, p.err
	}
	sink.Report(100, "done")
	return p.findings, nil
}

// memQuota counts rollbacks per job
type memQuota struct {
	mu        sync.Mutex
	rollbacks map[string]int
	err       error
}

func newMemQuota() *memQuota {
	return &memQuota{rollbacks: make(map[string]int)}
}

func (q *memQuota) Decrement(ctx context.Context, ownerID string) error {
	return q.err
}

func (q *memQuota) Rollback(ctx context.Context, ownerID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.rollbacks[jobID]++
	return nil
}

func (q *memQuota) rollbackCount(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rollbacks[jobID]
}
