package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fabfab/ragsentry/internal/domain"
	"github.com/fabfab/ragsentry/internal/metrics"
)

func TestHandleHealthReturnsOK(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestHandlePgHealthReportsNotConfiguredWithoutStore(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/pg/health", nil)
	rec := httptest.NewRecorder()

	s.handlePgHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["configured"] != false {
		t.Fatalf("expected configured=false without a store, got %v", body["configured"])
	}
}

func TestHandleMetricsSummaryWithoutRecorderReturnsZero(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)
	rec := httptest.NewRecorder()

	s.handleMetricsSummary(rec, req)

	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["calls"].(float64) != 0 {
		t.Fatalf("expected zero calls, got %v", body["calls"])
	}
}

func TestHandleMetricsSummaryReflectsRecordedCalls(t *testing.T) {
	rec := metrics.New(0)
	rec.Record("s1", domain.LLMTokenReport{SystemTokens: 10}, true)
	s := &Server{metrics: rec}

	req := httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)
	w := httptest.NewRecorder()
	s.handleMetricsSummary(w, req)

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["calls"].(float64) != 1 {
		t.Fatalf("expected 1 call, got %v", body["calls"])
	}
}

func TestStatusForKindMapping(t *testing.T) {
	cases := map[domain.Kind]int{
		domain.KindUnauthenticated: http.StatusUnauthorized,
		domain.KindForbidden:       http.StatusForbidden,
		domain.KindNotFound:        http.StatusNotFound,
		domain.KindMessageBlocked:  http.StatusUnprocessableEntity,
		domain.KindRateLimited:     http.StatusTooManyRequests,
		domain.KindValidation:      http.StatusUnprocessableEntity,
		domain.KindTimeout:         http.StatusGatewayTimeout,
		domain.KindLLMUnavailable:  http.StatusServiceUnavailable,
		domain.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestStatusAndBodyForMessageBlocked(t *testing.T) {
	err := &domain.MessageBlockedError{Verdict: domain.GuardianVerdict{Reason: "heuristic_block:test", ThreatLevel: domain.ThreatHigh}}
	status, body := statusAndBodyFor(err)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
	if body["reason"] != "heuristic_block:test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusAndBodyForRateLimited(t *testing.T) {
	err := &domain.RateLimitedError{RetryAfter: 30 * time.Second}
	status, _ := statusAndBodyFor(err)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
}
