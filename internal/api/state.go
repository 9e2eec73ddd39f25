package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gaspardpetit/chatrelay/internal/metrics"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

// BackendProbe reports the backend version and installed models.
type BackendProbe interface {
	Version(ctx context.Context) (string, error)
	Tags(ctx context.Context) ([]string, error)
}

// BackendState describes the result of probing the backend. ModelInstalled
// is nil when the model list could not be fetched.
type BackendState struct {
	URL            string `json:"url,omitempty"`
	Reachable      bool   `json:"reachable"`
	Version        string `json:"version,omitempty"`
	ModelInstalled *bool  `json:"model_installed,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HostStats holds memory and load figures of the relay host.
type HostStats struct {
	MemTotal       uint64  `json:"mem_total"`
	MemAvailable   uint64  `json:"mem_available"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Status        string       `json:"status"`
	Draining      bool         `json:"draining"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	InFlight      int64        `json:"in_flight"`
	Model         string       `json:"model"`
	Backend       BackendState `json:"backend"`
	Host          *HostStats   `json:"host,omitempty"`
}

// StateHandler serves the relay state snapshot.
type StateHandler struct {
	Backend      BackendProbe
	BackendURL   string
	Model        string
	Started      time.Time
	ProbeTimeout time.Duration
}

// GetState returns a JSON snapshot of the relay and its backend.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot(r.Context()))
}

// Snapshot collects the current state.
func (h *StateHandler) Snapshot(ctx context.Context) StateResponse {
	st := StateResponse{
		Status:        serverstate.GetState(),
		Draining:      serverstate.IsDraining(),
		UptimeSeconds: time.Since(h.Started).Seconds(),
		InFlight:      metrics.InFlight(),
		Model:         h.Model,
		Backend:       BackendState{URL: h.BackendURL},
	}
	timeout := h.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if h.Backend != nil {
		if v, err := h.Backend.Version(probeCtx); err != nil {
			st.Backend.Error = err.Error()
		} else {
			st.Backend.Reachable = true
			st.Backend.Version = v
			if models, err := h.Backend.Tags(probeCtx); err == nil {
				installed := hasModel(models, h.Model)
				st.Backend.ModelInstalled = &installed
			}
		}
	}
	st.Host = hostStats(probeCtx)
	return st
}

// hostStats returns nil when memory figures are unavailable. Load averages
// are best effort.
func hostStats(ctx context.Context) *HostStats {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil
	}
	hs := &HostStats{MemTotal: vm.Total, MemAvailable: vm.Available, MemUsedPercent: vm.UsedPercent}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hs.Load1, hs.Load5, hs.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return hs
}

// hasModel matches name against installed models, treating a missing tag as
// ":latest".
func hasModel(models []string, name string) bool {
	if !strings.Contains(name, ":") {
		name += ":latest"
	}
	for _, m := range models {
		if !strings.Contains(m, ":") {
			m += ":latest"
		}
		if m == name {
			return true
		}
	}
	return false
}
