package repositories

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthRepository runs dependency probes for the readiness endpoint.
type HealthRepository struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewHealthRepository constructs a HealthRepository over checks. A nil clock uses time.Now.
func NewHealthRepository(clock func() time.Time, checks ...DependencyCheck) (*HealthRepository, error) {
	for _, check := range checks {
		if check.Name == "" || check.Check == nil {
			return nil, errors.New("health repository: dependency checks need a name and a function")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &HealthRepository{checks: append([]DependencyCheck(nil), checks...), now: clock}, nil
}

// Collect runs every probe concurrently, each under its own timeout. A failing probe degrades
// the report; a timed out or cancelled probe marks it as error.
func (r *HealthRepository) Collect(ctx context.Context) domain.HealthReport {
	results := make(map[string]domain.HealthCheck, len(r.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, check := range r.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			timeout := check.Timeout
			if timeout <= 0 {
				timeout = defaultDependencyTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := r.now()
			err := check.Check(checkCtx)
			end := r.now()

			result := domain.HealthCheck{Status: domain.HealthStatusOK, Latency: end.Sub(start), CheckedAt: end.UTC()}
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				result.Status, result.Detail = domain.HealthStatusError, "cancelled"
			case errors.Is(err, context.DeadlineExceeded):
				result.Status, result.Detail = domain.HealthStatusError, "timeout"
			default:
				result.Status, result.Detail = domain.HealthStatusDegraded, err.Error()
			}

			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}

	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: r.now().UTC()}
}
