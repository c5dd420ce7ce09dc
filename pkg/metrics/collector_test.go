package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gemshare/gemshare/pkg/models"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("quota")
	c.RecordRequest("quota")
	c.RecordRequest("mem_update")
	c.ObserveRequestDuration("quota", 0.001)
	c.RecordGrantPush(true)
	c.RecordGrantPush(false)

	c.UpdateSchedulerState(models.SchedulerStats{
		Clients:           4,
		CandidatesWaiting: 2,
		ActiveTokens:      1,
		SMOccupied:        60,
		TokensGranted:     5,
		QuotaGrantedMS:    1250,
		ForcedExpiries:    1,
		ConfigReloads:     3,
	})
	c.UpdateClientState(models.ClientStatus{
		ClientLimit:  models.ClientLimit{Name: "podA", MemLimitBytes: 2048},
		QuotaMS:      250,
		UsageMS:      123,
		MemUsedBytes: 1024,
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	out := string(body)

	checks := []string{
		`gemini_scheduler_requests_total{kind="quota"} 2`,
		`gemini_scheduler_requests_total{kind="mem_update"} 1`,
		`gemini_scheduler_grant_pushes_total{outcome="delivered"} 1`,
		`gemini_scheduler_grant_pushes_total{outcome="failed"} 1`,
		`gemini_scheduler_tokens_granted 5`,
		`gemini_scheduler_quota_granted_ms 1250`,
		`gemini_scheduler_sm_occupied_percent 60`,
		`gemini_scheduler_clients 4`,
		`gemini_client_window_usage_ms{client="podA"} 123`,
		`gemini_client_quota_ms{client="podA"} 250`,
		`gemini_client_mem_used_bytes{client="podA"} 1024`,
		`gemini_client_mem_limit_bytes{client="podA"} 2048`,
	}
	for _, want := range checks {
		if !strings.Contains(out, want) {
			t.Errorf("Metrics output missing %q", want)
		}
	}
}

func TestNilCollector(t *testing.T) {
	// A nil collector must be safe to call everywhere
	var c *Collector
	c.RecordRequest("quota")
	c.ObserveRequestDuration("quota", 0.1)
	c.RecordGrantPush(true)
	c.UpdateSchedulerState(models.SchedulerStats{})
	c.UpdateClientState(models.ClientStatus{})
}
