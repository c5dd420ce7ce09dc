package api

import (
	"bytes"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics serves Prometheus-compatible metrics at /metrics.
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Refresh the registered gauges from live scheduler state before
	// gathering, so every scrape sees current numbers.
	stats := h.sched.Stats()
	h.collect.UpdateSchedulerState(stats)
	for _, client := range h.sched.Clients() {
		h.collect.UpdateClientState(client)
	}

	// First, write the metrics that are not registry-backed.
	fmt.Fprintf(w, "# HELP gemini_scheduler_uptime_seconds Scheduler uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE gemini_scheduler_uptime_seconds gauge\n")
	fmt.Fprintf(w, "gemini_scheduler_uptime_seconds %.0f\n", stats.UptimeSeconds)

	if hs := hostStats(); hs != nil {
		fmt.Fprintf(w, "\n# HELP gemini_scheduler_host_cpu_percent Host CPU usage percentage (0-100)\n")
		fmt.Fprintf(w, "# TYPE gemini_scheduler_host_cpu_percent gauge\n")
		fmt.Fprintf(w, "gemini_scheduler_host_cpu_percent %.2f\n", hs.CPUPercent)

		fmt.Fprintf(w, "\n# HELP gemini_scheduler_host_mem_used_bytes Host memory usage in bytes\n")
		fmt.Fprintf(w, "# TYPE gemini_scheduler_host_mem_used_bytes gauge\n")
		fmt.Fprintf(w, "gemini_scheduler_host_mem_used_bytes %d\n", hs.MemUsedBytes)
	}

	fmt.Fprintf(w, "\n")

	// Now append the registry-backed metrics.
	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	w.Write(buf.Bytes())
}
