package scan

import (
	"sync"

	"github.com/ternarybob/vigil/internal/interfaces"
)

// Overall progress is divided into a setup band, a band shared by the
// probes, and a finalize band for aggregation and scoring.
const (
	progressProbesStart = 5
	progressProbesEnd   = 95
)

// emitFunc receives throttled overall progress updates
type emitFunc func(percent int, message string)

// jobProgress folds concurrent per-probe progress into one overall
// 0-100 value. All updates serialize through a single mutex so the
// take-the-max rule has no lost updates under concurrent writers.
//
// Forwarding is throttled: an update is emitted only when it moves the
// overall value by at least two points, or reaches 100. The overall
// value itself never regresses - a late low-percentage report from a
// slower probe is absorbed silently.
type jobProgress struct {
	mu      sync.Mutex
	overall int
	emitted int
	emit    emitFunc
}

func newJobProgress(emit emitFunc) *jobProgress {
	return &jobProgress{emit: emit}
}

// ProbeSink returns a sink bound to one probe's private slice of the
// overall range. The slices for n probes partition the probe band
// evenly and never overlap.
func (p *jobProgress) ProbeSink(index, total int) interfaces.ProgressSink {
	band := progressProbesEnd - progressProbesStart
	lo := progressProbesStart + band*index/total
	hi := progressProbesStart + band*(index+1)/total
	return &probeSink{progress: p, lo: lo, hi: hi}
}

// Set reports an absolute overall value, used for the setup and
// finalize stages outside the probe band.
func (p *jobProgress) Set(percent int, message string) {
	p.update(percent, message)
}

// Current returns the overall progress value reached so far
func (p *jobProgress) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overall
}

func (p *jobProgress) update(mapped int, message string) {
	if mapped > 100 {
		mapped = 100
	}

	// Emit while holding the lock so forwarded values can never reach
	// subscribers out of order.
	p.mu.Lock()
	defer p.mu.Unlock()

	if mapped <= p.overall {
		return
	}
	p.overall = mapped

	if p.overall-p.emitted >= 2 || (p.overall >= 100 && p.emitted < 100) {
		p.emitted = p.overall
		p.emit(mapped, message)
	}
}

// probeSink maps a probe's 0-100 onto its slice of the overall range
type probeSink struct {
	progress *jobProgress
	lo, hi   int
}

func (s *probeSink) Report(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	mapped := s.lo + (s.hi-s.lo)*percent/100
	s.progress.update(mapped, message)
}
