package sched

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gemshare/gemshare/pkg/limits"
	"github.com/gemshare/gemshare/pkg/models"
)

// clientState is the per-client runtime accounting. Limits live in the
// registry; this only holds what the scheduler learns while running.
type clientState struct {
	quota         float64
	burst         float64
	latestOveruse float64
	latestActual  float64
	memUsed       uint64
}

// nextQuotaLocked runs the self-adaptive quota update for one client.
// Without burst data it falls back to the static quota; otherwise it
// blends the burst estimate into the previous quota and clamps the
// result between the configured minimum and the client's guaranteed
// share of the window.
func (s *Scheduler) nextQuotaLocked(name string, st *clientState) float64 {
	const updateRate = 0.5 // how drastically the quota changes

	if st.burst < 1e-9 {
		st.quota = s.cfg.QuotaMS
		s.log.Debug(fmt.Sprintf("%s: no burst data, fallback to static quota %.3f ms", name, st.quota))
		return st.quota
	}

	st.quota = st.burst*updateRate + st.quota*(1-updateRate)
	st.quota = math.Max(st.quota, s.cfg.MinQuotaMS)
	if entry, err := s.reg.Get(name); err == nil {
		st.quota = math.Min(st.quota, entry.MinFraction*s.cfg.WindowMS)
	}
	s.log.Debug(fmt.Sprintf("%s: burst %.3f ms, assign quota %.3f ms", name, st.burst, st.quota))
	return st.quota
}

// updateReturnTimeLocked adjusts the client's most recent history entry:
// the client may have stopped short of its grant or overrun it, and
// reports the difference as overuse on its next request.
func (s *Scheduler) updateReturnTimeLocked(name string, now, overuse float64, st *clientState) {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].name == name {
			s.history[i].end = math.Min(now, s.history[i].end+overuse)
			st.latestActual = s.history[i].end - s.history[i].start
			break
		}
	}
	st.latestOveruse = overuse

	for i := len(s.fullHist) - 1; i >= 0; i-- {
		if s.fullHist[i].name == name {
			s.fullHist[i].end = math.Min(now, s.fullHist[i].end+overuse)
			break
		}
	}
}

// recordLocked appends a grant to both histories.
func (s *Scheduler) recordLocked(name string, now, quota float64) {
	h := histEntry{name: name, start: now, end: now + quota}
	s.history = append(s.history, h)
	s.fullHist = append(s.fullHist, h)
	if s.cfg.MaxHistory > 0 && len(s.fullHist) > s.cfg.MaxHistory {
		drop := len(s.fullHist) - s.cfg.MaxHistory
		s.fullHist = append(s.fullHist[:0:0], s.fullHist[drop:]...)
	}
}

// applyEntriesLocked rebuilds runtime state for the given clients. A
// client reappearing in the limit file starts from a clean slate.
func (s *Scheduler) applyEntriesLocked(entries []models.ClientLimit) {
	for _, e := range entries {
		s.clients[e.Name] = &clientState{quota: s.cfg.QuotaMS}
		s.log.Info(fmt.Sprintf("%s request: %.2f, limit: %.2f, memory limit: %d bytes, sm partition: %d%%",
			e.Name, e.MinFraction, e.MaxFraction, e.MemLimitBytes, e.SMPartition))
	}
}

// ReloadLimits applies a fresh set of limit entries to the registry and
// resets the runtime state of every client named in it. Clients missing
// from entries keep running under their previous limits.
func (s *Scheduler) ReloadLimits(entries []models.ClientLimit) {
	s.reg.Apply(entries)

	s.mu.Lock()
	s.applyEntriesLocked(entries)
	s.reloads++
	s.mu.Unlock()
}

// MemInfo reports the client's current memory usage and its limit.
func (s *Scheduler) MemInfo(client string) (used, limit uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.clients[client]
	if !ok {
		return 0, 0, limits.ErrUnknownClient
	}
	entry, err := s.reg.Get(client)
	if err != nil {
		return 0, 0, err
	}
	return st.memUsed, entry.MemLimitBytes, nil
}

// MemUpdate applies an allocation report. Allocations are admitted while
// they fit under the limit. Frees are admitted only while the balance
// stays above zero; freeing the entire balance is rejected.
func (s *Scheduler) MemUpdate(client string, bytes uint64, allocate bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.clients[client]
	if !ok {
		return false, limits.ErrUnknownClient
	}
	entry, err := s.reg.Get(client)
	if err != nil {
		return false, err
	}

	if allocate {
		if st.memUsed+bytes <= entry.MemLimitBytes {
			st.memUsed += bytes
			return true, nil
		}
		return false, nil
	}
	if st.memUsed > bytes {
		st.memUsed -= bytes
		return true, nil
	}
	return false, nil
}

// Stats reports aggregate scheduler state.
func (s *Scheduler) Stats() models.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.SchedulerStats{
		StartedAt:         s.start,
		UptimeSeconds:     time.Since(s.start).Seconds(),
		Clients:           len(s.clients),
		CandidatesWaiting: len(s.candidates),
		ActiveTokens:      len(s.tokens),
		SMOccupied:        s.smOccupied,
		TokensGranted:     s.tokensGranted,
		QuotaGrantedMS:    s.quotaGrantedMS,
		ForcedExpiries:    s.forcedExpiries,
		ConfigReloads:     s.reloads,
	}
}

// Clients reports the status of every known client, sorted by name.
func (s *Scheduler) Clients() []models.ClientStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	out := make([]models.ClientStatus, 0, len(s.clients))
	for name, st := range s.clients {
		out = append(out, s.statusLocked(name, st, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Client reports the status of one client.
func (s *Scheduler) Client(name string) (models.ClientStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.clients[name]
	if !ok {
		return models.ClientStatus{}, limits.ErrUnknownClient
	}
	return s.statusLocked(name, st, s.nowFn()), nil
}

func (s *Scheduler) statusLocked(name string, st *clientState, now float64) models.ClientStatus {
	entry, err := s.reg.Get(name)
	if err != nil {
		entry.Name = name
	}

	windowStart := now - s.cfg.WindowMS
	var usage float64
	for _, h := range s.history {
		if h.name != name || h.end < windowStart {
			continue
		}
		usage += h.end - math.Max(h.start, windowStart)
	}

	holding := false
	for _, tk := range s.tokens {
		if tk.name == name {
			holding = true
			break
		}
	}
	waiting := false
	for _, cand := range s.candidates {
		if cand.name == name {
			waiting = true
			break
		}
	}

	return models.ClientStatus{
		ClientLimit:  entry,
		QuotaMS:      st.quota,
		BurstMS:      st.burst,
		OveruseMS:    st.latestOveruse,
		UsageMS:      usage,
		MemUsedBytes: st.memUsed,
		HoldingToken: holding,
		Waiting:      waiting,
	}
}
