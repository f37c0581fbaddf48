package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
	"github.com/waypoint-immigration/portal/internal/platform/httpx"
)

// BuildInfo identifies the running binary in health responses.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthCollector produces a dependency readiness report.
type HealthCollector interface {
	Collect(ctx context.Context) domain.HealthReport
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build     BuildInfo
	collector HealthCollector
	now       func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata echoed by the probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthCollector sets the dependency checks run by /readyz.
func WithHealthCollector(collector HealthCollector) HealthOption {
	return func(h *HealthHandlers) {
		h.collector = collector
	}
}

// WithHealthClock injects a time source.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHealthHandlers constructs probe handlers. Without a collector /readyz reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]domain.HealthCheck `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports liveness; it never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.baseResponse(domain.HealthStatusOK))
}

// Readyz runs dependency checks. An errored dependency answers 503; a degraded one still
// answers 200 with the failing checks listed in details.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		httpx.WriteJSON(w, http.StatusOK, h.baseResponse(domain.HealthStatusOK))
		return
	}

	report := h.collector.Collect(r.Context())
	resp := h.baseResponse(report.Status)
	resp.Checks = report.Checks
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			resp.Details = append(resp.Details, name+": "+check.Detail)
		}
	}
	sort.Strings(resp.Details)

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *HealthHandlers) baseResponse(status string) healthResponse {
	now := h.now()
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
