package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// Health statuses reported by readiness checks.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of a single dependency check.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency check outcomes.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}

// HealthRepository reports the readiness of storage and other backing services.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// DependencyCheck describes a dependency call executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock primarily for tests.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository that evaluates the provided checks concurrently.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", check.Name)
		}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

type namedHealthCheck struct {
	name  string
	check HealthCheck
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (HealthReport, error) {
	results := make(chan namedHealthCheck, len(r.checks))
	for _, check := range r.checks {
		go func(check DependencyCheck) {
			results <- namedHealthCheck{name: check.Name, check: r.runCheck(ctx, check)}
		}(check)
	}

	report := HealthReport{Status: HealthStatusOK, Checks: make(map[string]HealthCheck, len(r.checks))}
	for range r.checks {
		res := <-results
		report.Checks[res.name] = res.check
		switch res.check.Status {
		case HealthStatusError:
			report.Status = HealthStatusError
		case HealthStatusDegraded:
			if report.Status == HealthStatusOK {
				report.Status = HealthStatusDegraded
			}
		}
	}
	report.GeneratedAt = r.now()
	return report, nil
}

func (r *dependencyHealthRepository) runCheck(ctx context.Context, check DependencyCheck) HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	end := r.now()

	result := HealthCheck{Status: HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil && checkCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || (err == nil && checkCtx.Err() != nil):
		result.Status = HealthStatusError
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Status = HealthStatusError
		result.Detail = "cancelled"
	default:
		result.Status = HealthStatusDegraded
		result.Detail = err.Error()
	}
	return result
}
