package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	res := &domain.Result{
		TotalRecords: 4,
		ClaimCount:   3,
		Flagged:      make([]domain.RiskAssessment, 2),
		RuleCounts: []domain.RuleCount{
			{Rule: domain.RuleExtremeLossRatio, Count: 2},
			{Rule: domain.RuleStatisticalOutlier, Count: 0},
		},
	}

	m.ObserveRun(OutcomeScored, 4, res, 20*time.Millisecond)
	m.ObserveRun(OutcomeCached, 4, nil, 0)

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues(OutcomeScored)); got != 1 {
		t.Errorf("expected 1 scored run, got %v", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues(OutcomeCached)); got != 1 {
		t.Errorf("expected 1 cached run, got %v", got)
	}
	if got := testutil.ToFloat64(m.recordsScored); got != 8 {
		t.Errorf("expected 8 records, got %v", got)
	}
	if got := testutil.ToFloat64(m.claimsScored); got != 3 {
		t.Errorf("expected 3 claims, got %v", got)
	}
	if got := testutil.ToFloat64(m.flaggedClaims); got != 2 {
		t.Errorf("expected 2 flagged, got %v", got)
	}
	if got := testutil.ToFloat64(m.ruleTriggers.WithLabelValues(string(domain.RuleExtremeLossRatio))); got != 2 {
		t.Errorf("expected 2 triggers, got %v", got)
	}
}

func TestCacheLookup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// Must not panic.
	m.ObserveRun(OutcomeFailed, 1, nil, time.Second)
	m.CacheLookup(true)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 without a registry, got %d", rec.Code)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/score", 400, 5*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`harrier_http_requests_total{method="POST",route="/score",status="4xx"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 202: "2xx", 304: "3xx", 404: "4xx", 503: "5xx"}
	for status, want := range tests {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %s, want %s", status, got, want)
		}
	}
}
