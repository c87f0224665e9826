package interfaces

import "github.com/ternarybob/vigil/internal/models"

// Subscriber receives events for one job's room. Delivery is best effort;
// a slow or gone subscriber never blocks job processing.
type Subscriber interface {
	Notify(event models.JobEvent)
}

// EventService is the per-job progress broadcaster. Publishing is
// fire-and-forget to zero or more subscribers grouped by job id.
// Subscribing and unsubscribing are lifecycle operations independent of
// job processing.
type EventService interface {
	Subscribe(jobID string, sub Subscriber)
	Unsubscribe(jobID string, sub Subscriber)
	Publish(jobID string, event models.JobEvent)
	Close() error
}
