package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewFindingID generates a unique finding ID with the "fnd_" prefix
func NewFindingID() string {
	return "fnd_" + uuid.New().String()
}
