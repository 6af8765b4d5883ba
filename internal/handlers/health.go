package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status   string            `json:"status"`
	Instance string            `json:"instance"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// HealthHandler reports 200 when every check passes and 503 otherwise.
func HealthHandler(instance string, checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Instance: instance, Checks: map[string]string{}}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				resp.Checks[c.Name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
		writeJSON(w, status, resp)
	}
}
