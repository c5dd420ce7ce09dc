package models

import "time"

// SchedulerStats is the aggregate state reported by the admin API.
type SchedulerStats struct {
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	Clients           int       `json:"clients"`
	CandidatesWaiting int       `json:"candidates_waiting"`
	ActiveTokens      int       `json:"active_tokens"`
	SMOccupied        uint64    `json:"sm_occupied"`
	TokensGranted     uint64    `json:"tokens_granted"`
	QuotaGrantedMS    float64   `json:"quota_granted_ms"`
	ForcedExpiries    uint64    `json:"forced_expiries"`
	ConfigReloads     uint64    `json:"config_reloads"`

	Host *HostStats `json:"host,omitempty"`
}

// HostStats is a point-in-time snapshot of the machine the scheduler runs on.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
	Hostname      string  `json:"hostname"`
	Uptime        uint64  `json:"uptime_seconds"`
}
