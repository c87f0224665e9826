package queue

import "time"

// Config holds configuration for the queue manager
type Config struct {
	// PollInterval is how often worker slots poll for messages
	PollInterval time.Duration

	// Concurrency is the number of concurrent job slots
	Concurrency int

	// VisibilityTimeout is the per-job lease. It must exceed the
	// worst-case probe runtime so another slot cannot claim a live job.
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be delivered before
	// it is dead-lettered. Initial delivery plus retries.
	MaxReceive int

	// QueueName is the key prefix in Badger
	QueueName string

	// StartsPerMinute caps job starts over a rolling 60s window
	StartsPerMinute int
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:      1 * time.Second,
		Concurrency:       3,
		VisibilityTimeout: 35 * time.Minute,
		MaxReceive:        3,
		QueueName:         "vigil_scans",
		StartsPerMinute:   10,
	}
}
