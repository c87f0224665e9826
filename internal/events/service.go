package events

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// Service is the progress broadcaster: a pub/sub room per job id.
// Broadcasting is decoupled from persistence - every update reaches
// live subscribers, while durable progress writes are opt-in per update
// so the job store is not hammered by probe progress storms.
type Service struct {
	rooms      map[string]map[interfaces.Subscriber]struct{}
	mu         sync.RWMutex
	jobStorage interfaces.JobStorage
	logger     arbor.ILogger
}

// NewService creates a new event service
func NewService(jobStorage interfaces.JobStorage, logger arbor.ILogger) *Service {
	return &Service{
		rooms:      make(map[string]map[interfaces.Subscriber]struct{}),
		jobStorage: jobStorage,
		logger:     logger,
	}
}

// Subscribe joins a subscriber to a job's room
func (s *Service) Subscribe(jobID string, sub interfaces.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[jobID]
	if !ok {
		room = make(map[interfaces.Subscriber]struct{})
		s.rooms[jobID] = room
	}
	room[sub] = struct{}{}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("subscriber_count", len(room)).
		Msg("Subscriber joined job room")
}

// Unsubscribe removes a subscriber from a job's room
func (s *Service) Unsubscribe(jobID string, sub interfaces.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[jobID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(s.rooms, jobID)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Msg("Subscriber left job room")
}

// Publish broadcasts an event to the job's room. Fire-and-forget:
// delivery is best effort and zero subscribers is not an error.
func (s *Service) Publish(jobID string, event models.JobEvent) {
	s.mu.RLock()
	room := s.rooms[jobID]
	subs := make([]interfaces.Subscriber, 0, len(room))
	for sub := range room {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.Notify(event)
	}
}

// PublishProgress broadcasts a progress event and, unless skipStore is
// set, persists the progress value. The job store performs its own
// bounded backoff on durable writes; a persistence failure here is
// logged and swallowed - it must never abort the job. Terminal updates
// do not go through this path: the orchestrator persists terminal state
// first and then publishes the terminal event directly.
func (s *Service) PublishProgress(ctx context.Context, jobID string, percent int, message string, skipStore bool) {
	if !skipStore {
		if err := s.jobStorage.UpdateJobProgress(ctx, jobID, percent, message); err != nil {
			s.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Int("percent", percent).
				Msg("Failed to persist progress update, continuing")
		}
	}

	s.Publish(jobID, models.JobEvent{
		Type:    models.EventProgress,
		JobID:   jobID,
		Percent: percent,
		Message: message,
	})
}

// Close drops all rooms
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms = make(map[string]map[interfaces.Subscriber]struct{})
	s.logger.Info().Msg("Event service closed")

	return nil
}
