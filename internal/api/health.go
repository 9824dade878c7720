package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/juicer/internal/health"
	"github.com/snarg/juicer/internal/ingest"
	"github.com/snarg/juicer/internal/localmodel"
	"github.com/snarg/juicer/internal/queue"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Preferred     string            `json:"preferred_provider,omitempty"`
	Offline       bool              `json:"offline"`
	Queue         *queue.Stats      `json:"queue,omitempty"`
	Watcher       *ingest.Status    `json:"watcher,omitempty"`
}

type HealthHandler struct {
	deps      Deps
	version   string
	startTime time.Time
}

func NewHealthHandler(deps Deps, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{deps: deps, version: version, startTime: startTime}
}

// ServeHTTP reports process health. The service is unhealthy only when a
// configured database is unreachable; no operational provider or a dropped
// broker connection degrade it.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.deps.DB.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.deps.MQTT != nil {
		if h.deps.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{Version: h.version, UptimeSeconds: int64(time.Since(h.startTime).Seconds())}

	if h.deps.Health != nil {
		operational := false
		for _, sh := range h.deps.Health.Snapshot() {
			checks["provider_"+string(sh.Provider)] = string(sh.Status)
			if sh.Status == health.Operational || sh.Status == health.Degraded {
				operational = true
			}
		}
		if !operational {
			degrade()
		}
		resp.Preferred = string(h.deps.Health.PreferredService())
	}

	if h.deps.Model != nil {
		checks["local_model"] = string(h.deps.Model.Status().State)
	} else {
		checks["local_model"] = string(localmodel.StateNotLoaded)
	}
	if h.deps.Offline != nil {
		resp.Offline = h.deps.Offline.Offline()
	}
	if h.deps.Queue != nil {
		st := h.deps.Queue.Stats()
		resp.Queue = &st
	}
	if h.deps.Watcher != nil {
		ws := h.deps.Watcher.Status()
		resp.Watcher = &ws
		checks["watcher"] = ws.State
	}

	resp.Status = status
	resp.Checks = checks
	WriteJSON(w, httpStatus, resp)
}
