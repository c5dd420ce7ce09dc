package sched

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gemshare/gemshare/pkg/models"
)

// History returns the retained grant history with start and end converted
// to seconds since scheduler start, millisecond precision.
func (s *Scheduler) History() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.HistoryEntry, 0, len(s.fullHist))
	for _, h := range s.fullHist {
		out = append(out, models.HistoryEntry{
			Container: h.name,
			Start:     math.Round(h.start) / 1000,
			End:       math.Round(h.end) / 1000,
		})
	}
	return out
}

// DumpHistory writes the retained history as a JSON array to a
// <unix-timestamp>.json file in dir and returns the path. Triggered by
// SIGUSR1 on the daemon; the scheduler keeps running afterwards.
func (s *Scheduler) DumpHistory(dir string) (string, error) {
	entries := s.History()

	data, err := json.MarshalIndent(entries, "", "\t")
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, fmt.Sprintf("%d.json", time.Now().Unix()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write history dump: %w", err)
	}

	s.log.Info("History dumped", map[string]interface{}{
		"file":    path,
		"entries": len(entries),
	})
	return path, nil
}
