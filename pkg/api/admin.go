// Package api exposes the scheduler's read-only admin surface: client
// limits and live accounting, aggregate stats, the execution history and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/gemshare/gemshare/pkg/logging"
	"github.com/gemshare/gemshare/pkg/metrics"
	"github.com/gemshare/gemshare/pkg/models"
	"github.com/gemshare/gemshare/pkg/sched"
)

// AdminHandler handles admin API requests against a running scheduler.
type AdminHandler struct {
	sched   *sched.Scheduler
	collect *metrics.Collector
	log     *logging.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(s *sched.Scheduler, collect *metrics.Collector, log *logging.Logger) *AdminHandler {
	return &AdminHandler{
		sched:   s,
		collect: collect,
		log:     log,
	}
}

// RegisterRoutes registers all API routes.
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/clients", h.ListClients).Methods("GET")
	r.HandleFunc("/clients/{name}", h.GetClient).Methods("GET")
	r.HandleFunc("/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET")
}

// Health reports liveness.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// ListClients returns every known client with its limits and live state.
func (h *AdminHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.sched.Clients()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(clients)
}

// GetClient returns one client by name.
func (h *AdminHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	client, err := h.sched.Client(name)
	if err != nil {
		http.Error(w, fmt.Sprintf("Client not found: %v", err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(client)
}

// GetStats returns aggregate scheduler state plus a host snapshot.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.sched.Stats()
	stats.Host = hostStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetHistory returns the retained execution history in seconds.
func (h *AdminHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.sched.History()
	if entries == nil {
		entries = []models.HistoryEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// hostStats collects a best-effort snapshot of the host. Fields stay zero
// when a probe fails.
func hostStats() *models.HostStats {
	hs := &models.HostStats{}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		hs.CPUPercent = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		hs.MemUsedBytes = memInfo.Used
		hs.MemTotalBytes = memInfo.Total
	}
	if info, err := host.Info(); err == nil {
		hs.Hostname = info.Hostname
		hs.Uptime = info.Uptime
	}
	return hs
}
