package models

// ClientLimit is one row of the resource limit file: the share of a GPU a
// client container is entitled to. The pod manager writes the file; the
// scheduler only ever reads it.
type ClientLimit struct {
	Name          string  `json:"name" yaml:"name"`
	MinFraction   float64 `json:"min_fraction" yaml:"min_fraction"`
	MaxFraction   float64 `json:"max_fraction" yaml:"max_fraction"`
	SMPartition   uint64  `json:"sm_partition" yaml:"sm_partition"`     // percent of the GPU's SMs
	MemLimitBytes uint64  `json:"mem_limit_bytes" yaml:"mem_limit_bytes"`
}

// ClientStatus is the admin-facing view of one client: its configured limits
// plus the scheduler's live accounting for it.
type ClientStatus struct {
	ClientLimit

	QuotaMS       float64 `json:"quota_ms" yaml:"quota_ms"`
	BurstMS       float64 `json:"burst_ms" yaml:"burst_ms"`
	OveruseMS     float64 `json:"overuse_ms" yaml:"overuse_ms"`
	UsageMS       float64 `json:"window_usage_ms" yaml:"window_usage_ms"`
	MemUsedBytes  uint64  `json:"mem_used_bytes" yaml:"mem_used_bytes"`
	HoldingToken  bool    `json:"holding_token" yaml:"holding_token"`
	Waiting       bool    `json:"waiting" yaml:"waiting"`
}
