package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

func TestHealthHandlersHealthz(t *testing.T) {
	started := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.4.0" || resp.CommitSHA != "abc123" || resp.Environment != "staging" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Uptime != "1h30m0s" || resp.Timestamp != "2024-01-15T14:30:00Z" {
		t.Fatalf("unexpected timing fields %+v", resp)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		report  domain.HealthReport
		status  int
		details []string
	}{
		{
			name: "all ok",
			report: domain.HealthReport{Status: domain.HealthStatusOK, Checks: map[string]domain.HealthCheck{
				"store": {Status: domain.HealthStatusOK},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded stays ready",
			report: domain.HealthReport{Status: domain.HealthStatusDegraded, Checks: map[string]domain.HealthCheck{
				"store":   {Status: domain.HealthStatusOK},
				"secrets": {Status: domain.HealthStatusDegraded, Detail: "slow"},
			}},
			status:  http.StatusOK,
			details: []string{"secrets: slow"},
		},
		{
			name: "error is unavailable",
			report: domain.HealthReport{Status: domain.HealthStatusError, Checks: map[string]domain.HealthCheck{
				"store":   {Status: domain.HealthStatusError, Detail: "connection refused"},
				"secrets": {Status: domain.HealthStatusDegraded, Detail: "slow"},
			}},
			status:  http.StatusServiceUnavailable,
			details: []string{"secrets: slow", "store: connection refused"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthCollector(stubHealthCollector{report: tc.report}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var resp healthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tc.report.Status {
				t.Fatalf("expected status %s, got %s", tc.report.Status, resp.Status)
			}
			if len(resp.Details) != len(tc.details) {
				t.Fatalf("expected details %v, got %v", tc.details, resp.Details)
			}
			for i := range tc.details {
				if resp.Details[i] != tc.details[i] {
					t.Fatalf("expected details %v, got %v", tc.details, resp.Details)
				}
			}
		})
	}
}
