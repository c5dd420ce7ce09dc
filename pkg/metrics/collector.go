// Package metrics exposes the scheduler's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gemshare/gemshare/pkg/models"
)

// Collector holds the scheduler's metric vectors. Request-path methods
// are called at event sites; the Update methods are fed fresh scheduler
// snapshots at scrape time. All methods tolerate a nil receiver so
// components can run without instrumentation.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	grantPushes     *prometheus.CounterVec

	tokensGranted     prometheus.Gauge
	quotaGrantedMS    prometheus.Gauge
	candidatesWaiting prometheus.Gauge
	activeTokens      prometheus.Gauge
	smOccupied        prometheus.Gauge
	forcedExpiries    prometheus.Gauge
	configReloads     prometheus.Gauge
	clients           prometheus.Gauge

	clientUsage    *prometheus.GaugeVec
	clientQuota    *prometheus.GaugeVec
	clientMemUsed  *prometheus.GaugeVec
	clientMemLimit *prometheus.GaugeVec
}

// NewCollector creates the collector and registers every metric with the
// default registry.
func NewCollector() *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemini_scheduler_requests_total",
				Help: "Client requests handled, by request kind",
			},
			[]string{"kind"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gemini_scheduler_request_duration_seconds",
				Help:    "Time from reading a request to its response being ready",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"kind"},
		),
		grantPushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gemini_scheduler_grant_pushes_total",
				Help: "Quota grant deliveries to clients, by outcome",
			},
			[]string{"outcome"},
		),
		tokensGranted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_tokens_granted",
			Help: "Quota tokens granted since start",
		}),
		quotaGrantedMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_quota_granted_ms",
			Help: "Total quota milliseconds granted since start",
		}),
		candidatesWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_candidates_waiting",
			Help: "Quota requests waiting to be scheduled",
		}),
		activeTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_active_tokens",
			Help: "Tokens currently outstanding",
		}),
		smOccupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_sm_occupied_percent",
			Help: "SM capacity held by outstanding tokens",
		}),
		forcedExpiries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_forced_expiries",
			Help: "Tokens reclaimed because the holder never returned",
		}),
		configReloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_config_reloads",
			Help: "Limit file reloads applied since start",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gemini_scheduler_clients",
			Help: "Clients known to the scheduler",
		}),
		clientUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gemini_client_window_usage_ms",
				Help: "GPU milliseconds used inside the sliding window, per client",
			},
			[]string{"client"},
		),
		clientQuota: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gemini_client_quota_ms",
				Help: "Current adaptive quota, per client",
			},
			[]string{"client"},
		),
		clientMemUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gemini_client_mem_used_bytes",
				Help: "GPU memory accounted to the client",
			},
			[]string{"client"},
		),
		clientMemLimit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gemini_client_mem_limit_bytes",
				Help: "GPU memory limit of the client",
			},
			[]string{"client"},
		),
	}

	prometheus.MustRegister(c.requestsTotal)
	prometheus.MustRegister(c.requestDuration)
	prometheus.MustRegister(c.grantPushes)
	prometheus.MustRegister(c.tokensGranted)
	prometheus.MustRegister(c.quotaGrantedMS)
	prometheus.MustRegister(c.candidatesWaiting)
	prometheus.MustRegister(c.activeTokens)
	prometheus.MustRegister(c.smOccupied)
	prometheus.MustRegister(c.forcedExpiries)
	prometheus.MustRegister(c.configReloads)
	prometheus.MustRegister(c.clients)
	prometheus.MustRegister(c.clientUsage)
	prometheus.MustRegister(c.clientQuota)
	prometheus.MustRegister(c.clientMemUsed)
	prometheus.MustRegister(c.clientMemLimit)

	return c
}

// RecordRequest counts one handled client request.
func (c *Collector) RecordRequest(kind string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(kind).Inc()
}

// ObserveRequestDuration records how long handling a request took.
func (c *Collector) ObserveRequestDuration(kind string, seconds float64) {
	if c == nil {
		return
	}
	c.requestDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordGrantPush counts one grant delivery attempt outcome.
func (c *Collector) RecordGrantPush(delivered bool) {
	if c == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	c.grantPushes.WithLabelValues(outcome).Inc()
}

// UpdateSchedulerState pushes an aggregate snapshot into the gauges.
func (c *Collector) UpdateSchedulerState(st models.SchedulerStats) {
	if c == nil {
		return
	}
	c.tokensGranted.Set(float64(st.TokensGranted))
	c.quotaGrantedMS.Set(st.QuotaGrantedMS)
	c.candidatesWaiting.Set(float64(st.CandidatesWaiting))
	c.activeTokens.Set(float64(st.ActiveTokens))
	c.smOccupied.Set(float64(st.SMOccupied))
	c.forcedExpiries.Set(float64(st.ForcedExpiries))
	c.configReloads.Set(float64(st.ConfigReloads))
	c.clients.Set(float64(st.Clients))
}

// UpdateClientState pushes one client's snapshot into the per-client
// gauges.
func (c *Collector) UpdateClientState(cs models.ClientStatus) {
	if c == nil {
		return
	}
	c.clientUsage.WithLabelValues(cs.Name).Set(cs.UsageMS)
	c.clientQuota.WithLabelValues(cs.Name).Set(cs.QuotaMS)
	c.clientMemUsed.WithLabelValues(cs.Name).Set(float64(cs.MemUsedBytes))
	c.clientMemLimit.WithLabelValues(cs.Name).Set(float64(cs.MemLimitBytes))
}
