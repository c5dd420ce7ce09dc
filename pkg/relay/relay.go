// Package relay forwards interrupt and continue signals into the hook
// library's entry points. It owns the process's registration for exactly
// those two signals; every other signal keeps its default disposition.
package relay

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gemshare/gemshare/pkg/logging"
)

// EntryPoint is one callable target inside the hook library, with the
// (int) -> void contract.
type EntryPoint interface {
	Call(signum int)
}

// ErrMissingEntryPoint is returned when a relay is created with fewer
// than both entry points. Partial installation is not a supported state.
var ErrMissingEntryPoint = errors.New("relay: both entry points are required")

// SignalSource abstracts os/signal registration so dispatch can be
// driven directly in tests.
type SignalSource interface {
	Notify(ch chan<- os.Signal, sigs ...os.Signal)
	Stop(ch chan<- os.Signal)
}

type osSignalSource struct{}

func (osSignalSource) Notify(ch chan<- os.Signal, sigs ...os.Signal) { signal.Notify(ch, sigs...) }
func (osSignalSource) Stop(ch chan<- os.Signal)                      { signal.Stop(ch) }

// Relay binds the two monitored signals to the two entry points. The
// entry point references are written once at construction and read-only
// afterwards.
type Relay struct {
	interrupt EntryPoint
	cont      EntryPoint
	log       *logging.Logger
	source    SignalSource

	sigCh   chan os.Signal
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// New creates a relay for the given entry points. Both must be non-nil;
// a relay that could fire with an unresolved reference is refused here
// rather than failing inside a handler.
func New(interrupt, cont EntryPoint, log *logging.Logger) (*Relay, error) {
	if interrupt == nil || cont == nil {
		return nil, ErrMissingEntryPoint
	}
	return &Relay{
		interrupt: interrupt,
		cont:      cont,
		log:       log,
		source:    osSignalSource{},
	}, nil
}

// SetSignalSource replaces the os/signal backend. Must be called before
// Install.
func (r *Relay) SetSignalSource(source SignalSource) {
	r.source = source
}

// Install registers for the interrupt and continue signals and starts the
// dispatch goroutine. Both registrations happen in one call; there is no
// state where only one handler is live.
func (r *Relay) Install() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("relay: already installed")
	}

	r.sigCh = make(chan os.Signal, 2)
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.source.Notify(r.sigCh, unix.SIGINT, unix.SIGCONT)
	r.running = true

	go r.dispatch()

	r.log.Info("Signal relay installed", map[string]interface{}{
		"signals": []string{unix.SIGINT.String(), unix.SIGCONT.String()},
	})
	return nil
}

// dispatch forwards signals in OS delivery order, one at a time. The
// forwarding call is synchronous; a slow hook library delays later
// signals exactly as a blocking handler would.
func (r *Relay) dispatch() {
	defer close(r.doneCh)
	for {
		select {
		case sig := <-r.sigCh:
			r.forward(sig)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Relay) forward(sig os.Signal) {
	num, ok := sig.(unix.Signal)
	if !ok {
		return
	}
	switch num {
	case unix.SIGINT:
		// Diagnostics are best-effort and must never block forwarding.
		r.log.Info("Interrupt received, forwarding for session teardown")
		r.interrupt.Call(int(num))
		// Whether the process exits is the hook library's decision; the
		// relay returns to dispatching either way.
	case unix.SIGCONT:
		r.log.Info("Continue received, forwarding for session resume")
		r.cont.Call(int(num))
	}
}

// Stop tears down the registration and ends dispatch. The production
// binary never calls this; handlers stay live until process exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.source.Stop(r.sigCh)
	close(r.stopCh)
	r.running = false
	r.mu.Unlock()
	<-r.doneCh
}
