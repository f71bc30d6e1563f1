package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/tamil-captioner/internal/watch"
)

// Pinger is satisfied by *database.DB.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Connectivity is satisfied by *mqttclient.Client.
type Connectivity interface {
	IsConnected() bool
}

// WatcherStatus is satisfied by *watch.FileWatcher.
type WatcherStatus interface {
	Status() watch.Status
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Provider      string            `json:"provider"`
	Watcher       *watch.Status     `json:"watcher,omitempty"`
}

// HealthOptions lists what the health endpoint reports on. Nil collaborators
// are reported as not_configured.
type HealthOptions struct {
	DB        Pinger
	MQTT      Connectivity
	Watcher   WatcherStatus
	Provider  string
	Store     string
	Version   string
	StartTime time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.opts.Store != "" {
		checks["store"] = h.opts.Store
	} else {
		checks["store"] = "not_configured"
	}

	// Database is optional; a configured but unreachable one is unhealthy.
	if h.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.opts.DB.HealthCheck(ctx)
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

	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
		Provider:      h.opts.Provider,
	}

	if h.opts.Watcher != nil {
		ws := h.opts.Watcher.Status()
		checks["file_watcher"] = ws.Status
		resp.Watcher = &ws
	} else {
		checks["file_watcher"] = "not_configured"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
