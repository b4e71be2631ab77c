package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/storefront/checkout/internal/platform/httpx"
	"github.com/storefront/checkout/internal/repositories"
)

// BuildInfo describes the running binary for health responses.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness checks.
type HealthHandlers struct {
	build  BuildInfo
	health repositories.HealthRepository
	now    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthRepository enables dependency checks on /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs health handlers.
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

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      repositories.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   formatTime(now),
	})
}

type readyzCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Detail    string `json:"detail,omitempty"`
}

type readyzResponse struct {
	Status    string                 `json:"status"`
	Checks    map[string]readyzCheck `json:"checks,omitempty"`
	Details   []string               `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Readyz checks backing services and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := readyzResponse{Status: repositories.HealthStatusOK, Timestamp: formatTime(h.now())}
	if h.health == nil {
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	report, err := h.health.Collect(r.Context())
	if err != nil {
		resp.Status = repositories.HealthStatusError
		resp.Details = []string{err.Error()}
		httpx.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = report.Status
	resp.Checks = make(map[string]readyzCheck, len(report.Checks))
	for name, check := range report.Checks {
		resp.Checks[name] = readyzCheck{
			Status:    check.Status,
			LatencyMS: check.Latency.Milliseconds(),
			Detail:    check.Detail,
		}
		if check.Status != repositories.HealthStatusOK {
			resp.Details = append(resp.Details, name+": "+check.Detail)
		}
	}
	sort.Strings(resp.Details)

	status := http.StatusOK
	if report.Status != repositories.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
