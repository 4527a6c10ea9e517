package api

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependency is one readiness check. A critical dependency that is down fails readiness;
// any other only degrades it.
type Dependency struct {
	Name     string
	Pinger   Pinger
	Critical bool
}

type HealthHandler struct {
	deps    []Dependency
	env     string
	version string
}

func NewHealthHandler(deps []Dependency, env, version string) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.deps))
	status := "ok"

	for _, dep := range h.deps {
		depCtx, depCancel := context.WithTimeout(ctx, time.Second)
		err := dep.Pinger.Ping(depCtx)
		depCancel()

		if err == nil {
			deps[dep.Name] = "ok"
			continue
		}
		deps[dep.Name] = "down"
		if dep.Critical {
			status = "error"
		} else if status == "ok" {
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
