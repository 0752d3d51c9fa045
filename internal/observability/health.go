package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// Health states reported in HealthStatus.Status.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthStatus is the body served by the health endpoints.
type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Uptime    string          `json:"uptime"`
	Details   map[string]any  `json:"details,omitempty"`
	Checks    map[string]bool `json:"checks"`
}

// NewHealthStatus reports ok when every check passes.
func NewHealthStatus(startedAt time.Time, checks map[string]bool) HealthStatus {
	status := HealthOK
	for _, ok := range checks {
		if !ok {
			status = HealthDegraded
			break
		}
	}
	if checks == nil {
		checks = map[string]bool{}
	}
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(startedAt).Round(time.Millisecond).String(),
		Checks:    checks,
	}
}

// WriteHealth writes h as JSON. A degraded status answers 503.
func WriteHealth(w http.ResponseWriter, h HealthStatus) {
	code := http.StatusOK
	if h.Status != HealthOK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(h)
}
