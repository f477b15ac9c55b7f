package service

import (
	"context"
	"time"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	readinessTimeout = 5 * time.Second
)

// Readiness reports the state of the store and the reasoning backend.
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready pings the collaborators. The pipeline still serves fallback
// suggestions when they are down, so the result is degraded, never failed.
func (p *Pipeline) Ready(ctx context.Context) Readiness {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	r := Readiness{Status: StatusHealthy, Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			r.Status = StatusDegraded
			r.Checks[name] = err.Error()
			return
		}
		r.Checks[name] = "ok"
	}

	check("store", p.store.Ping(ctx))
	if p.backend == nil {
		r.Checks["reasoning_backend"] = "not configured"
	} else {
		check("reasoning_backend", p.backend.HealthCheck(ctx))
	}
	if p.predictor.IsTrained() {
		r.Checks["predictor"] = "trained"
	} else {
		r.Checks["predictor"] = "heuristic"
	}
	return r
}
