package metrics

import (
	"testing"

	"github.com/fabfab/ragsentry/internal/domain"
)

func TestRecordAndRecentReturnsLatestSamples(t *testing.T) {
	r := New(0)
	for i := 0; i < 3; i++ {
		r.Record("s1", domain.LLMTokenReport{SystemTokens: 10, UserTokens: 5}, i%2 == 0)
	}

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(recent))
	}
	if recent[len(recent)-1].CallIndex != 3 {
		t.Fatalf("expected last call index 3, got %d", recent[len(recent)-1].CallIndex)
	}
}

func TestRecordTrimsToCapacity(t *testing.T) {
	r := New(2)
	for i := 0; i < 5; i++ {
		r.Record("s1", domain.LLMTokenReport{SystemTokens: 1}, false)
	}

	all := r.Recent(0)
	if len(all) != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", len(all))
	}
	if all[0].CallIndex != 4 || all[1].CallIndex != 5 {
		t.Fatalf("expected the two most recent calls (4,5), got %v", all)
	}
}

func TestSummarizeAggregatesTokensAndCacheRatio(t *testing.T) {
	r := New(0)
	r.Record("s1", domain.LLMTokenReport{SystemTokens: 10, HistoryTokens: 5, UserTokens: 5}, true)
	r.Record("s1", domain.LLMTokenReport{SystemTokens: 10, HistoryTokens: 5, UserTokens: 5}, false)

	summary := r.Summarize()
	if summary.Calls != 2 {
		t.Fatalf("expected 2 calls, got %d", summary.Calls)
	}
	if summary.TotalTokens != 40 {
		t.Fatalf("expected 40 total tokens, got %d", summary.TotalTokens)
	}
	if summary.CachedCalls != 1 {
		t.Fatalf("expected 1 cached call, got %d", summary.CachedCalls)
	}
	if summary.CacheHitRatio != 0.5 {
		t.Fatalf("expected cache hit ratio 0.5, got %f", summary.CacheHitRatio)
	}
}

func TestSummarizeOnEmptyRecorderReturnsZeroRatio(t *testing.T) {
	r := New(0)
	summary := r.Summarize()
	if summary.Calls != 0 || summary.CacheHitRatio != 0 {
		t.Fatalf("expected zero-value summary, got %+v", summary)
	}
}
