package models

// EventType identifies the kind of job event published to subscribers
type EventType string

const (
	EventProgress  EventType = "progress"  // repeatable
	EventCompleted EventType = "completed" // exactly once, terminal
	EventFailed    EventType = "failed"    // exactly once, terminal
)

// JobEvent is one message on a job's event stream.
type JobEvent struct {
	Type    EventType   `json:"type"`
	JobID   string      `json:"job_id"`
	Percent int         `json:"percent,omitempty"`
	Message string      `json:"message,omitempty"`
	Result  *ScanResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// IsTerminal returns true for completed/failed events
func (e JobEvent) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}
