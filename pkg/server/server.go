// Package server accepts pod manager connections and services the quota
// and memory protocol against the scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gemshare/gemshare/pkg/comm"
	"github.com/gemshare/gemshare/pkg/logging"
	"github.com/gemshare/gemshare/pkg/metrics"
	"github.com/gemshare/gemshare/pkg/retry"
	"github.com/gemshare/gemshare/pkg/sched"
)

// Config holds the TCP server settings.
type Config struct {
	Addr string
}

// DefaultConfig returns the stock listen address.
func DefaultConfig() Config {
	return Config{Addr: ":50051"}
}

// Server owns the listener and one goroutine per pod manager connection.
// Requests are handled in arrival order per connection; quota responses
// are pushed later by the scheduling loop through the same connection.
type Server struct {
	cfg     Config
	sched   *sched.Scheduler
	collect *metrics.Collector
	log     *logging.Logger

	listener net.Listener
	connMu   sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a server bound to the given scheduler.
func New(cfg Config, s *sched.Scheduler, collect *metrics.Collector, log *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		sched:   s,
		collect: collect,
		log:     log,
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
}

// Start opens the listener and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.log.Info("Waiting for incoming connections", map[string]interface{}{"addr": ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("Accept failed", map[string]interface{}{"error": err.Error()})
			continue
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
	}()

	log := s.log.WithField("session", uuid.New().String())
	log.Info("Received an incoming connection", map[string]interface{}{"remote": conn.RemoteAddr().String()})

	for {
		req, err := comm.ReadRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Connection closed by pod manager")
			} else if !errors.Is(err, net.ErrClosed) {
				log.Warn("Failed to read request", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		s.handleRequest(conn, req, log)
	}
}

// handleRequest services one decoded request. Requests naming a client
// the limit file does not know are warned about and ignored.
func (s *Server) handleRequest(conn net.Conn, req *comm.Request, log *logging.Logger) {
	start := time.Now()
	s.collect.RecordRequest(req.Kind.String())

	switch req.Kind {
	case comm.KindQuota:
		err := s.sched.Submit(req.Client, req.OveruseMS, req.BurstMS, s.grantPusher(conn, req.ID, req.Client, log))
		if err != nil {
			log.Warn(fmt.Sprintf("Unknown client %q. Ignore this request.", req.Client))
		}

	case comm.KindMemLimit:
		used, limit, err := s.sched.MemInfo(req.Client)
		if err != nil {
			log.Warn(fmt.Sprintf("Unknown client %q. Ignore this request.", req.Client))
			break
		}
		s.send(conn, comm.EncodeMemLimitResponse(req.ID, used, limit), log)

	case comm.KindMemUpdate:
		ok, err := s.sched.MemUpdate(req.Client, req.Bytes, req.Allocate)
		if err != nil {
			log.Warn(fmt.Sprintf("Unknown client %q. Ignore this request.", req.Client))
			break
		}
		s.send(conn, comm.EncodeMemUpdateResponse(req.ID, ok), log)
	}

	s.collect.ObserveRequestDuration(req.Kind.String(), time.Since(start).Seconds())
}

// grantPusher builds the deliver hook the scheduler calls once it grants
// this request.
func (s *Server) grantPusher(conn net.Conn, reqID uint32, client string, log *logging.Logger) func(float64) error {
	return func(quotaMS float64) error {
		err := s.send(conn, comm.EncodeQuotaResponse(reqID, quotaMS), log)
		s.collect.RecordGrantPush(err == nil)
		if err != nil {
			return fmt.Errorf("failed to push grant to %s: %w", client, err)
		}
		return nil
	}
}

// send writes a response frame with bounded retry.
func (s *Server) send(conn net.Conn, frame []byte, log *logging.Logger) error {
	err := retry.Do(s.ctx, retry.GrantDelivery(), func() error {
		_, werr := conn.Write(frame)
		return werr
	})
	if err != nil {
		log.Warn("Failed to send response", map[string]interface{}{"error": err.Error()})
	}
	return err
}

// Shutdown closes the listener and every live connection, then waits for
// handlers to drain or ctx to run out.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()
	})
	if s.listener != nil {
		s.listener.Close()
	}

	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
