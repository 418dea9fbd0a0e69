// Package metrics keeps an in-memory, bounded record of per-call token
// accounting for operational visibility. Persistence and visualization are
// explicitly out of scope (spec.md §1 Non-goals); this recorder exists only
// to answer "what did the last N calls cost" from the running process, and
// is dropped on restart. The bounded trim-from-front behavior mirrors the
// replay-buffer trimming pattern used for bounded in-memory logs elsewhere
// in the retrieved example pack.
package metrics

import (
	"sync"
	"time"

	"github.com/fabfab/ragsentry/internal/domain"
)

const defaultCapacity = 1000

// Recorder accumulates domain.TokenMetrics samples, keeping at most
// capacity of the most recent ones.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	samples  []domain.TokenMetrics
	calls    int
}

// New constructs a Recorder. capacity <= 0 defaults to 1000 samples.
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Recorder{capacity: capacity}
}

// Record appends a sample, assigning it the next call index from a single
// counter shared by all sessions, and trims the oldest sample if over
// capacity.
func (r *Recorder) Record(sessionID string, report domain.LLMTokenReport, wasCached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	sample := domain.TokenMetrics{
		SessionID:     sessionID,
		CallIndex:     r.calls,
		SystemTokens:  report.SystemTokens,
		HistoryTokens: report.HistoryTokens,
		UserTokens:    report.UserTokens,
		WasCached:     wasCached,
		Timestamp:     time.Now(),
	}

	r.samples = append(r.samples, sample)
	if len(r.samples) > r.capacity {
		r.samples = r.samples[len(r.samples)-r.capacity:]
	}
}

// Recent returns a copy of the last n recorded samples (all of them if n <=
// 0 or n exceeds what's stored).
func (r *Recorder) Recent(n int) []domain.TokenMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.samples) {
		n = len(r.samples)
	}
	out := make([]domain.TokenMetrics, n)
	copy(out, r.samples[len(r.samples)-n:])
	return out
}

// Summary aggregates total tokens and cache-hit ratio across all retained
// samples.
type Summary struct {
	Calls         int
	TotalTokens   int
	CachedCalls   int
	CacheHitRatio float64
}

// Summarize computes a Summary over the currently retained samples. This is
// a window over the retained capacity, not lifetime totals, since older
// samples are trimmed.
func (r *Recorder) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Summary
	s.Calls = len(r.samples)
	for _, sample := range r.samples {
		s.TotalTokens += sample.SystemTokens + sample.HistoryTokens + sample.UserTokens
		if sample.WasCached {
			s.CachedCalls++
		}
	}
	if s.Calls > 0 {
		s.CacheHitRatio = float64(s.CachedCalls) / float64(s.Calls)
	}
	return s
}
