package models

// HistoryEntry records one granted slice of GPU time. Start and End are
// seconds since the scheduler started, matching the layout of the history
// dump file.
type HistoryEntry struct {
	Container string  `json:"container"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}
