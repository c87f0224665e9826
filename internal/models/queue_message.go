package models

import "errors"

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the envelope stored in the durable queue.
// Keep it simple - just enough to route the job to a worker slot.
type QueueMessage struct {
	JobID  string `json:"job_id"` // References jobs.id
	Target string `json:"target"` // Denormalized for worker logging
}
