package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

func TestHealthRepositoryCollect(t *testing.T) {
	repo, err := NewHealthRepository(nil,
		DependencyCheck{Name: "store", Check: func(context.Context) error { return nil }},
		DependencyCheck{Name: "secrets", Check: func(context.Context) error { return errors.New("permission denied") }},
	)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	report := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["store"].Status != domain.HealthStatusOK {
		t.Fatalf("expected store ok, got %+v", report.Checks["store"])
	}
	if got := report.Checks["secrets"]; got.Status != domain.HealthStatusDegraded || got.Detail != "permission denied" {
		t.Fatalf("unexpected secrets check %+v", got)
	}
}

func TestHealthRepositoryTimeoutIsError(t *testing.T) {
	repo, err := NewHealthRepository(nil, DependencyCheck{
		Name:    "store",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	report := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError || report.Checks["store"].Detail != "timeout" {
		t.Fatalf("expected timeout error, got %+v", report)
	}
}

func TestHealthRepositoryRejectsUnnamedChecks(t *testing.T) {
	if _, err := NewHealthRepository(nil, DependencyCheck{Check: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for unnamed check")
	}
}
