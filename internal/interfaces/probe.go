package interfaces

import (
	"context"

	"github.com/ternarybob/vigil/internal/models"
)

// ProgressSink receives fractional progress from a running probe.
// Percent is 0-100 within the probe's own work, not the overall job;
// the coordinator maps it onto the job's range. Implementations must be
// safe for concurrent use - probes on different goroutines share a job.
type ProgressSink interface {
	Report(percent int, message string)
}

// Probe is one independent scanning capability. Run inspects the target
// and returns its findings. A probe failing must not abort the job; the
// coordinator captures the error as a failed outcome.
type Probe interface {
	Name() string
	Run(ctx context.Context, target string, sink ProgressSink) ([]models.Finding, error)
}
