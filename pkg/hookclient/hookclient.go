// Package hookclient implements the pod manager side of the scheduler
// protocol: quota requests, memory limit queries and memory accounting
// updates over a single long-lived TCP connection.
package hookclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gemshare/gemshare/pkg/comm"
)

// Client speaks the scheduler protocol on behalf of one named client.
// Requests are serialized: the connection carries one outstanding request
// at a time, and a quota response may arrive only after the scheduler
// decides to grant.
type Client struct {
	name string
	conn net.Conn

	mu     sync.Mutex
	nextID uint32
}

// Dial connects to the scheduler at addr and identifies as name.
func Dial(addr, name string) (*Client, error) {
	if len(name) > comm.NameFieldSize-1 {
		return nil, comm.ErrNameTooLong
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial scheduler at %s: %w", addr, err)
	}
	return &Client{name: name, conn: conn}, nil
}

// Name returns the client name sent with every request.
func (c *Client) Name() string {
	return c.name
}

// RequestQuota reports the previous window's overuse and burst and blocks
// until the scheduler grants a new quota in milliseconds.
func (c *Client) RequestQuota(ctx context.Context, overuseMS, burstMS float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextIDLocked()
	frame, err := comm.EncodeQuotaRequest(c.name, id, overuseMS, burstMS)
	if err != nil {
		return 0, err
	}
	rsp, err := c.roundTripLocked(ctx, frame, id)
	if err != nil {
		return 0, err
	}
	return rsp.QuotaMS, nil
}

// MemLimit returns the current used bytes and the memory limit.
func (c *Client) MemLimit(ctx context.Context) (used, limit uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextIDLocked()
	frame, err := comm.EncodeMemLimitRequest(c.name, id)
	if err != nil {
		return 0, 0, err
	}
	rsp, err := c.roundTripLocked(ctx, frame, id)
	if err != nil {
		return 0, 0, err
	}
	return rsp.Used, rsp.Limit, nil
}

// MemUpdate reports an allocation or free of bytes and returns the
// scheduler's verdict. A false verdict on allocate means the limit would
// be exceeded; on free it means the books do not cover the amount.
func (c *Client) MemUpdate(ctx context.Context, bytes uint64, allocate bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextIDLocked()
	frame, err := comm.EncodeMemUpdateRequest(c.name, id, bytes, allocate)
	if err != nil {
		return false, err
	}
	rsp, err := c.roundTripLocked(ctx, frame, id)
	if err != nil {
		return false, err
	}
	return rsp.OK, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextIDLocked() uint32 {
	c.nextID++
	return c.nextID
}

// roundTripLocked writes one request frame and reads responses until the
// matching ID shows up. Stale grant pushes from an earlier timed-out
// request are discarded. Cancellation is honored through the context
// deadline; a context without one blocks until the scheduler answers.
func (c *Client) roundTripLocked(ctx context.Context, frame []byte, id uint32) (*comm.Response, error) {
	if d, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(d); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	for {
		rsp, err := comm.ReadResponse(c.conn)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if rsp.ID == id {
			return rsp, nil
		}
	}
}
