// Package sched implements the per-GPU time-slice scheduler: clients ask
// for execution quota, the scheduler grants tokens against a sliding usage
// window and the GPU's SM capacity, and tracks per-client memory accounting.
package sched

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gemshare/gemshare/pkg/limits"
	"github.com/gemshare/gemshare/pkg/logging"
)

const (
	// SMGlobalLimit is the GPU's total SM capacity in percent.
	SMGlobalLimit = 100

	// defaultScheduleWaitMS caps how long a scheduling round sleeps when
	// every candidate has exhausted its window share.
	defaultScheduleWaitMS = 2000.0
)

// Config holds the scheduler's timing parameters, all in milliseconds.
type Config struct {
	QuotaMS    float64 // static quota handed out when no burst data exists
	MinQuotaMS float64 // lower bound for the adaptive quota
	WindowMS   float64 // sliding usage window
	MaxHistory int     // retained entries in the full history, 0 keeps everything
}

// DefaultConfig returns the stock scheduler parameters.
func DefaultConfig() Config {
	return Config{
		QuotaMS:    250.0,
		MinQuotaMS: 100.0,
		WindowMS:   10000.0,
		MaxHistory: 16384,
	}
}

// candidate is one pending quota request.
type candidate struct {
	name    string
	arrival float64
	deliver func(quotaMS float64) error
}

// token is one outstanding grant. The holder is expected to come back
// before expiry; if it does not, the scheduler reclaims the token.
type token struct {
	name   string
	expiry float64
}

type histEntry struct {
	name  string
	start float64
	end   float64
}

// Scheduler arbitrates GPU time among clients. All mutable state sits
// behind one mutex; the scheduling loop is a single goroutine woken
// through a buffered channel.
type Scheduler struct {
	cfg Config
	reg *limits.Registry
	log *logging.Logger

	mu         sync.Mutex
	clients    map[string]*clientState
	candidates []*candidate
	tokens     []token
	history    []histEntry // trimmed to the sliding window
	fullHist   []histEntry // retained for dumps, bounded by MaxHistory
	smOccupied uint64

	tokensGranted  uint64
	quotaGrantedMS float64
	forcedExpiries uint64
	reloads        uint64

	start    time.Time
	nowFn    func() float64 // milliseconds since start
	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler seeded with the registry's current entries.
func New(cfg Config, reg *limits.Registry, log *logging.Logger) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		reg:     reg,
		log:     log,
		clients: make(map[string]*clientState),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		start:   time.Now(),
	}
	s.nowFn = func() float64 {
		return float64(time.Since(s.start)) / float64(time.Millisecond)
	}

	s.mu.Lock()
	s.applyEntriesLocked(reg.All())
	s.mu.Unlock()
	return s
}

// Submit enqueues a quota request for client. overuseMS is how far the
// client ran past its previous grant (negative when it returned early),
// burstMS its estimated kernel burst length. deliver is called with the
// granted quota once the scheduler selects this request.
func (s *Scheduler) Submit(client string, overuseMS, burstMS float64, deliver func(quotaMS float64) error) error {
	s.mu.Lock()
	st, ok := s.clients[client]
	if !ok {
		s.mu.Unlock()
		return limits.ErrUnknownClient
	}
	now := s.nowFn()
	s.updateReturnTimeLocked(client, now, overuseMS, st)
	st.burst = burstMS
	s.candidates = append(s.candidates, &candidate{name: client, arrival: now, deliver: deliver})
	s.mu.Unlock()

	s.wake()
	return nil
}

// Run executes the scheduling loop until Stop is called.
func (s *Scheduler) Run() {
	s.log.Info("Scheduling loop started")
	for s.runOnce() {
	}
	s.log.Info("Scheduling loop stopped")
}

// Stop ends the scheduling loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// runOnce performs one scheduling round. Returns false once stopped.
func (s *Scheduler) runOnce() bool {
	s.mu.Lock()
	pending := len(s.candidates)
	s.mu.Unlock()

	if pending == 0 {
		select {
		case <-s.wakeCh:
			return true
		case <-s.stopCh:
			return false
		}
	}

	s.mu.Lock()
	s.expireTokensLocked(s.nowFn())
	s.mu.Unlock()

	selected, ok := s.awaitCandidates()
	if !ok {
		return false
	}

	for _, sel := range selected {
		s.grant(sel)
	}

	s.mu.Lock()
	shouldWait := s.expireTokensLocked(s.nowFn())
	s.mu.Unlock()

	return s.awaitTokenReturn(shouldWait)
}

// awaitCandidates blocks until at least one candidate clears the window
// and SM checks, sleeping between rounds as the usage math dictates.
func (s *Scheduler) awaitCandidates() ([]*candidate, bool) {
	for {
		s.mu.Lock()
		approved, waitMS := s.pickLocked(s.nowFn())
		s.mu.Unlock()

		if len(approved) > 0 {
			return approved, true
		}

		timer := time.NewTimer(durationMS(waitMS))
		select {
		case <-timer.C:
		case <-s.wakeCh:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return nil, false
		}
	}
}

// pickLocked computes window usage, filters candidates that still have
// share left, orders them by scheduling priority and approves as many as
// SM capacity allows. When nothing is approved it returns how many
// milliseconds to sleep before the picture can change.
func (s *Scheduler) pickLocked(now float64) ([]*candidate, float64) {
	windowSize := s.cfg.WindowMS
	windowStart := now - s.cfg.WindowMS
	if windowStart < 0 {
		// elapsed time less than a window
		windowSize = now
	}

	kept := s.history[:0]
	for _, h := range s.history {
		if h.end >= windowStart {
			kept = append(kept, h)
		}
	}
	s.history = kept

	usage := make(map[string]float64)
	for _, h := range s.history {
		usage[h.name] += h.end - math.Max(h.start, windowStart)
	}

	type validCand struct {
		missing float64
		arrival float64
		idx     int
	}
	wait := defaultScheduleWaitMS
	valid := make([]validCand, 0, len(s.candidates))
	for i, cand := range s.candidates {
		entry, err := s.reg.Get(cand.name)
		if err != nil {
			continue
		}
		require := entry.MinFraction * windowSize
		limit := entry.MaxFraction * windowSize
		missing := require - usage[cand.name]
		remaining := limit - usage[cand.name]
		if remaining > 0 {
			valid = append(valid, validCand{missing: missing, arrival: cand.arrival, idx: i})
		} else if -remaining < wait {
			wait = -remaining
		}
	}
	if len(valid) == 0 {
		return nil, wait
	}

	// clients furthest below their guaranteed share go first,
	// ties broken by arrival
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].missing != valid[j].missing {
			return valid[i].missing > valid[j].missing
		}
		return valid[i].arrival < valid[j].arrival
	})

	approved := make([]*candidate, 0, len(valid))
	taken := make(map[int]bool)
	for _, v := range valid {
		entry, err := s.reg.Get(s.candidates[v.idx].name)
		if err != nil {
			continue
		}
		if s.smOccupied+entry.SMPartition <= SMGlobalLimit {
			approved = append(approved, s.candidates[v.idx])
			taken[v.idx] = true
		}
	}
	if len(taken) > 0 {
		rest := s.candidates[:0]
		for i, cand := range s.candidates {
			if !taken[i] {
				rest = append(rest, cand)
			}
		}
		s.candidates = rest
	}

	if len(approved) == 0 {
		// every valid candidate is blocked on SM capacity; sleep until the
		// oldest history entry leaves the window
		if len(s.history) > 0 {
			return nil, s.history[0].end - windowStart
		}
		return nil, wait
	}
	return approved, 0
}

// grant assigns a quota to the selected candidate, records it in the
// history and pushes the response through the candidate's deliver hook.
// The token is created after delivery so retry time does not eat into it.
func (s *Scheduler) grant(sel *candidate) {
	s.mu.Lock()
	st, ok := s.clients[sel.name]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.nowFn()
	quota := s.nextQuotaLocked(sel.name, st)
	s.recordLocked(sel.name, now, quota)
	s.mu.Unlock()

	s.log.Debug(fmt.Sprintf("Selected %s: quota %.3f ms, waited %.3f ms", sel.name, quota, now-sel.arrival))

	if err := sel.deliver(quota); err != nil {
		s.log.Warn("Failed to deliver quota grant", map[string]interface{}{
			"client": sel.name,
			"error":  err.Error(),
		})
	}

	s.mu.Lock()
	if entry, err := s.reg.Get(sel.name); err == nil {
		s.smOccupied += entry.SMPartition
	}
	s.tokens = append(s.tokens, token{name: sel.name, expiry: s.nowFn() + quota})
	s.tokensGranted++
	s.quotaGrantedMS += quota
	s.mu.Unlock()
}

// awaitTokenReturn waits for the earliest token to either come back with
// the holder's next request or run out. A holder that never returns is
// reclaimed when the timer fires. New arrivals cut the wait short only
// when they returned a token themselves or fit the remaining SM budget.
func (s *Scheduler) awaitTokenReturn(shouldWait bool) bool {
	for shouldWait {
		s.mu.Lock()
		idx := s.minTokenLocked()
		if idx < 0 {
			s.mu.Unlock()
			break
		}
		dur := s.tokens[idx].expiry - s.nowFn()
		if dur < 0 {
			dur = 0
		}
		s.mu.Unlock()

		timedOut, stopped := s.waitExpiryOrWake(dur)
		if stopped {
			return false
		}

		s.mu.Lock()
		if timedOut {
			if i := s.minTokenLocked(); i >= 0 {
				name := s.tokens[i].name
				s.log.Debug(fmt.Sprintf("%s did not return its token on time, reclaiming", name))
				s.releaseSMLocked(name)
				s.tokens = append(s.tokens[:i], s.tokens[i+1:]...)
				s.forcedExpiries++
			}
			shouldWait = false
		} else {
			for _, cand := range s.candidates {
				entry, err := s.reg.Get(cand.name)
				if s.releaseTokenLocked(cand.name) || (err == nil && s.smOccupied+entry.SMPartition <= SMGlobalLimit) {
					shouldWait = false
					break
				}
			}
		}
		s.mu.Unlock()
	}
	return true
}

func (s *Scheduler) waitExpiryOrWake(ms float64) (timedOut, stopped bool) {
	timer := time.NewTimer(durationMS(ms))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, false
	case <-s.wakeCh:
		return false, false
	case <-s.stopCh:
		return false, true
	}
}

// expireTokensLocked drops tokens past their expiry and releases their SM
// share. Returns false when the loop should schedule another round right
// away instead of waiting.
func (s *Scheduler) expireTokensLocked(now float64) bool {
	if len(s.tokens) == 0 {
		return false
	}
	shouldWait := true
	kept := s.tokens[:0]
	for _, tk := range s.tokens {
		if tk.expiry <= now {
			s.log.Debug(fmt.Sprintf("%s expired its token", tk.name))
			s.releaseSMLocked(tk.name)
			shouldWait = false
		} else {
			kept = append(kept, tk)
		}
	}
	s.tokens = kept
	return shouldWait
}

// releaseTokenLocked removes the named client's live token, if any.
func (s *Scheduler) releaseTokenLocked(name string) bool {
	for i, tk := range s.tokens {
		if tk.name == name {
			s.log.Debug(fmt.Sprintf("%s returned its token early", name))
			s.releaseSMLocked(name)
			s.tokens = append(s.tokens[:i], s.tokens[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scheduler) releaseSMLocked(name string) {
	entry, err := s.reg.Get(name)
	if err != nil {
		return
	}
	if s.smOccupied >= entry.SMPartition {
		s.smOccupied -= entry.SMPartition
	} else {
		s.smOccupied = 0
	}
}

func (s *Scheduler) minTokenLocked() int {
	idx := -1
	for i, tk := range s.tokens {
		if idx < 0 || tk.expiry < s.tokens[idx].expiry {
			idx = i
		}
	}
	return idx
}

func durationMS(ms float64) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
