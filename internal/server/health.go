package server

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents the overall health of the system.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component.
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// HealthCheck checks one dependency. A Critical check that fails makes the
// service unhealthy and not ready; a non-critical failure only degrades it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Health is the /health response body.
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the result of one HealthCheck.
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.checkHealth(r.Context())

	code := http.StatusOK
	if h.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// handleReady reports whether every critical dependency answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range s.checks {
		if !c.Critical {
			continue
		}
		if err := c.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, jMap{
				"status":  "not_ready",
				"message": c.Name + " unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, jMap{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleLive always succeeds while the process serves requests.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jMap{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h := Health{
		Timestamp:  time.Now().UTC(),
		Version:    s.cfg.Version,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, len(s.checks)),
	}

	var down, degraded int
	for _, c := range s.checks {
		start := time.Now()
		err := c.Check(ctx)
		ch := ComponentHealth{
			Status:    ComponentStatusUp,
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		}
		if err != nil {
			ch.Message = err.Error()
			if c.Critical {
				ch.Status = ComponentStatusDown
				down++
			} else {
				ch.Status = ComponentStatusDegraded
				degraded++
			}
		}
		h.Components[c.Name] = ch
	}

	switch {
	case down > 0:
		h.Status = HealthStatusUnhealthy
	case degraded > 0:
		h.Status = HealthStatusDegraded
	default:
		h.Status = HealthStatusHealthy
	}
	return h
}
