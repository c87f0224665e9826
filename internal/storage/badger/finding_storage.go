package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// FindingStorage implements the FindingStorage interface for Badger
type FindingStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	retries int
}

// NewFindingStorage creates a new FindingStorage instance
func NewFindingStorage(db *BadgerDB, logger arbor.ILogger, retries int) interfaces.FindingStorage {
	return &FindingStorage{
		db:      db,
		logger:  logger,
		retries: retries,
	}
}

func (s *FindingStorage) SaveFindings(ctx context.Context, jobID string, findings []models.Finding) error {
	for i := range findings {
		f := findings[i]
		if f.ID == "" {
			return fmt.Errorf("finding ID is required")
		}
		f.JobID = jobID

		if err := withRetry(ctx, s.retries, func() error {
			return s.db.Store().Upsert(f.ID, &f)
		}); err != nil {
			return fmt.Errorf("failed to save finding %s: %w", f.ID, err)
		}
	}
	return nil
}

func (s *FindingStorage) GetFindings(ctx context.Context, jobID string) ([]models.Finding, error) {
	var findings []models.Finding
	if err := s.db.Store().Find(&findings, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to get findings: %w", err)
	}
	return findings, nil
}

func (s *FindingStorage) DeleteFindings(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.Finding{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete findings: %w", err)
	}
	return nil
}
