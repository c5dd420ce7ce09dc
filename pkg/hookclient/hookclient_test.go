package hookclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gemshare/gemshare/pkg/comm"
)

// startFakeScheduler listens on an ephemeral port and feeds every decoded
// request to handler on a single accepted connection.
func startFakeScheduler(t *testing.T, handler func(req *comm.Request, conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			req, err := comm.ReadRequest(conn)
			if err != nil {
				return
			}
			handler(req, conn)
		}
	}()
	return ln.Addr().String()
}

func TestClientQuotaRequest(t *testing.T) {
	addr := startFakeScheduler(t, func(req *comm.Request, conn net.Conn) {
		if req.Client != "podA" {
			t.Errorf("expected client podA, got %q", req.Client)
		}
		if req.Kind != comm.KindQuota {
			t.Errorf("expected a quota request, got %v", req.Kind)
		}
		if req.OveruseMS != 12.5 || req.BurstMS != 80 {
			t.Errorf("unexpected payload: overuse=%v burst=%v", req.OveruseMS, req.BurstMS)
		}
		conn.Write(comm.EncodeQuotaResponse(req.ID, 123.5))
	})

	c, err := Dial(addr, "podA")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	quota, err := c.RequestQuota(ctx, 12.5, 80)
	if err != nil {
		t.Fatalf("RequestQuota: %v", err)
	}
	if quota != 123.5 {
		t.Errorf("expected quota 123.5, got %v", quota)
	}
}

func TestClientDiscardsStaleResponses(t *testing.T) {
	addr := startFakeScheduler(t, func(req *comm.Request, conn net.Conn) {
		// A grant for an earlier, abandoned request arrives first.
		conn.Write(comm.EncodeQuotaResponse(req.ID+100, 999))
		conn.Write(comm.EncodeQuotaResponse(req.ID, 250))
	})

	c, err := Dial(addr, "podA")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	quota, err := c.RequestQuota(ctx, 0, 0)
	if err != nil {
		t.Fatalf("RequestQuota: %v", err)
	}
	if quota != 250 {
		t.Errorf("expected the matching response 250, got %v", quota)
	}
}

func TestClientMemRoundTrips(t *testing.T) {
	addr := startFakeScheduler(t, func(req *comm.Request, conn net.Conn) {
		switch req.Kind {
		case comm.KindMemLimit:
			conn.Write(comm.EncodeMemLimitResponse(req.ID, 4096, 1<<20))
		case comm.KindMemUpdate:
			if req.Bytes != 4096 || !req.Allocate {
				t.Errorf("unexpected mem update: bytes=%d allocate=%v", req.Bytes, req.Allocate)
			}
			conn.Write(comm.EncodeMemUpdateResponse(req.ID, true))
		default:
			t.Errorf("unexpected request kind %v", req.Kind)
		}
	})

	c, err := Dial(addr, "podA")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := c.MemUpdate(ctx, 4096, true)
	if err != nil || !ok {
		t.Fatalf("MemUpdate: ok=%v err=%v", ok, err)
	}

	used, limit, err := c.MemLimit(ctx)
	if err != nil {
		t.Fatalf("MemLimit: %v", err)
	}
	if used != 4096 || limit != 1<<20 {
		t.Errorf("expected used=4096 limit=%d, got used=%d limit=%d", 1<<20, used, limit)
	}
}

func TestClientDeadline(t *testing.T) {
	addr := startFakeScheduler(t, func(req *comm.Request, conn net.Conn) {
		// Never answer; the client's deadline has to cut the wait short.
	})

	c, err := Dial(addr, "podA")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.RequestQuota(ctx, 0, 0)
	if err == nil {
		t.Fatal("expected a deadline error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline took too long to fire: %v", elapsed)
	}
}

func TestClientRejectsLongName(t *testing.T) {
	long := make([]byte, comm.NameFieldSize)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := Dial("127.0.0.1:1", string(long)); !errors.Is(err, comm.ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}
