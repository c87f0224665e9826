package models

import "time"

// Severity ranks how serious a finding is. Ordering is critical > high >
// medium > low > info; comparisons go through Rank, never string order.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// Rank returns the ordinal rank of the severity. Unknown severities rank
// below info so malformed probe output never outranks real findings.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Category is the closed set of finding categories used for score weighting.
type Category string

const (
	CategoryHeaders     Category = "headers"
	CategoryTLS         Category = "tls"
	CategoryNetwork     Category = "network"
	CategoryExposure    Category = "exposure"
	CategoryApplication Category = "application"
)

// Finding is one detected issue. Findings are created from probe results
// during a running scan, survive deduplication, and are immutable once the
// owning job reaches a terminal state.
type Finding struct {
	ID          string                 `json:"id" badgerhold:"key"`
	JobID       string                 `json:"job_id" badgerholdIndex:"JobID"`
	Probe       string                 `json:"probe"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Severity    Severity               `json:"severity"`
	Category    Category               `json:"category"`
	CVEID       string                 `json:"cve_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
