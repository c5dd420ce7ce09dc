package relay

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gemshare/gemshare/pkg/logging"
)

type fakeEntry struct {
	mu    sync.Mutex
	calls []int
}

func (f *fakeEntry) Call(signum int) {
	f.mu.Lock()
	f.calls = append(f.calls, signum)
	f.mu.Unlock()
}

func (f *fakeEntry) snapshot() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// fakeSource records registrations and lets tests push signals into the
// relay's channel directly.
type fakeSource struct {
	mu       sync.Mutex
	ch       chan<- os.Signal
	notified [][]os.Signal
	stopped  bool
}

func (f *fakeSource) Notify(ch chan<- os.Signal, sigs ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = ch
	f.notified = append(f.notified, append([]os.Signal(nil), sigs...))
}

func (f *fakeSource) Stop(ch chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) deliver(sig os.Signal) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- sig
}

func newTestRelay(t *testing.T) (*Relay, *fakeEntry, *fakeEntry, *fakeSource) {
	t.Helper()

	interrupt := &fakeEntry{}
	cont := &fakeEntry{}
	r, err := New(interrupt, cont, logging.NewLogger(logging.ERROR, false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := &fakeSource{}
	r.SetSignalSource(src)
	return r, interrupt, cont, src
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewRequiresBothEntryPoints(t *testing.T) {
	log := logging.NewLogger(logging.ERROR, false)

	if _, err := New(nil, &fakeEntry{}, log); !errors.Is(err, ErrMissingEntryPoint) {
		t.Errorf("expected ErrMissingEntryPoint without interrupt, got %v", err)
	}
	if _, err := New(&fakeEntry{}, nil, log); !errors.Is(err, ErrMissingEntryPoint) {
		t.Errorf("expected ErrMissingEntryPoint without continue, got %v", err)
	}
	if _, err := New(nil, nil, log); !errors.Is(err, ErrMissingEntryPoint) {
		t.Errorf("expected ErrMissingEntryPoint with neither, got %v", err)
	}
}

func TestInstallRegistersBothSignals(t *testing.T) {
	r, _, _, src := newTestRelay(t)
	if err := r.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer r.Stop()

	if len(src.notified) != 1 {
		t.Fatalf("expected exactly one registration, got %d", len(src.notified))
	}
	sigs := src.notified[0]
	if len(sigs) != 2 || sigs[0] != unix.SIGINT || sigs[1] != unix.SIGCONT {
		t.Errorf("expected registration for [SIGINT SIGCONT], got %v", sigs)
	}

	if err := r.Install(); err == nil {
		t.Error("expected a second Install to fail")
	}
}

func TestInterruptForwarded(t *testing.T) {
	r, interrupt, cont, src := newTestRelay(t)
	if err := r.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer r.Stop()

	src.deliver(unix.SIGINT)

	waitFor(t, 2*time.Second, func() bool {
		return len(interrupt.snapshot()) == 1
	}, "interrupt entry point never called")

	if got := interrupt.snapshot(); got[0] != int(unix.SIGINT) {
		t.Errorf("expected signal number %d, got %d", int(unix.SIGINT), got[0])
	}
	if got := cont.snapshot(); len(got) != 0 {
		t.Errorf("continue entry point must not fire on interrupt, got %v", got)
	}
}

func TestContinueForwardedAndDispatchContinues(t *testing.T) {
	r, interrupt, cont, src := newTestRelay(t)
	if err := r.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer r.Stop()

	src.deliver(unix.SIGCONT)
	waitFor(t, 2*time.Second, func() bool {
		return len(cont.snapshot()) == 1
	}, "continue entry point never called")

	if got := cont.snapshot(); got[0] != int(unix.SIGCONT) {
		t.Errorf("expected signal number %d, got %d", int(unix.SIGCONT), got[0])
	}

	// The relay keeps dispatching after a continue.
	src.deliver(unix.SIGCONT)
	waitFor(t, 2*time.Second, func() bool {
		return len(cont.snapshot()) == 2
	}, "relay stopped dispatching after the first continue")

	if got := interrupt.snapshot(); len(got) != 0 {
		t.Errorf("interrupt entry point must not fire on continue, got %v", got)
	}
}

func TestInterruptDoesNotEndDispatch(t *testing.T) {
	r, interrupt, cont, src := newTestRelay(t)
	if err := r.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer r.Stop()

	// Exiting after an interrupt is the hook library's call, never the
	// relay's: a continue delivered afterwards must still be forwarded.
	src.deliver(unix.SIGINT)
	src.deliver(unix.SIGCONT)

	waitFor(t, 2*time.Second, func() bool {
		return len(interrupt.snapshot()) == 1 && len(cont.snapshot()) == 1
	}, "signals after an interrupt were not forwarded")
}

func TestUnmonitoredSignalIgnored(t *testing.T) {
	r, interrupt, cont, src := newTestRelay(t)
	if err := r.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer r.Stop()

	src.deliver(unix.SIGHUP)
	time.Sleep(100 * time.Millisecond)

	if got := interrupt.snapshot(); len(got) != 0 {
		t.Errorf("interrupt entry point fired for SIGHUP: %v", got)
	}
	if got := cont.snapshot(); len(got) != 0 {
		t.Errorf("continue entry point fired for SIGHUP: %v", got)
	}
}

func TestStopEndsForwarding(t *testing.T) {
	r, interrupt, _, src := newTestRelay(t)
	if err := r.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}

	r.Stop()
	if !src.stopped {
		t.Error("expected Stop to unregister the signal channel")
	}

	// Calling Stop again is a no-op.
	r.Stop()

	select {
	case src.ch <- unix.SIGINT:
		// Lands in the buffer; nothing drains it anymore.
	default:
	}
	time.Sleep(100 * time.Millisecond)
	if got := interrupt.snapshot(); len(got) != 0 {
		t.Errorf("relay forwarded after Stop: %v", got)
	}
}
