package models

import (
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job id has no stored record
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the state of a scan job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one user-initiated scan request and its lifecycle record.
//
// Status is monotonic: pending -> running -> completed/failed. There is no
// transition out of a terminal state without external override. Progress
// never decreases within a single run; it resets to 0 only when a new run
// starts. Score, Grade and Result are written exactly once, atomically with
// the terminal transition.
type Job struct {
	ID      string `json:"id" badgerhold:"key"`
	OwnerID string `json:"owner_id"`
	Target  string `json:"target"`

	Status          JobStatus `json:"status" badgerholdIndex:"Status"`
	Progress        int       `json:"progress"`
	ProgressMessage string    `json:"progress_message,omitempty"`

	Score  int         `json:"score"`
	Grade  string      `json:"grade,omitempty"`
	Result *ScanResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`

	// QuotaRolledBack guards the recovery sweeper's compensating rollback.
	// Once set the job must never be rolled back again.
	QuotaRolledBack bool `json:"quota_rolled_back"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkRunning transitions the job into a fresh run
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.Progress = 0
	j.ProgressMessage = "Scan started"
	j.StartedAt = &now
}

// MarkCompleted records the scored result and the terminal transition
func (j *Job) MarkCompleted(result *ScanResult) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.ProgressMessage = "Scan complete"
	j.Score = result.Score
	j.Grade = result.Grade
	j.Result = result
	j.CompletedAt = &now
}

// MarkFailed records the terminal failure transition
func (j *Job) MarkFailed(reason string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.ProgressMessage = reason
	j.Error = reason
	j.CompletedAt = &now
}

// ScanResult is the structured payload written once at the terminal
// transition. Its shape is stable for downstream reporting to consume
// without re-deriving anything.
type ScanResult struct {
	Score           int            `json:"score"`
	Grade           string         `json:"grade"`
	Breakdown       map[string]int `json:"breakdown"`
	SeverityCounts  map[string]int `json:"severity_counts"`
	FindingCount    int            `json:"finding_count"`
	Probes          []ProbeSummary `json:"probes"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// ProbeSummary records one probe's outcome for observability
type ProbeSummary struct {
	Probe        string `json:"probe"`
	Success      bool   `json:"success"`
	FindingCount int    `json:"finding_count"`
	Error        string `json:"error,omitempty"`
}
