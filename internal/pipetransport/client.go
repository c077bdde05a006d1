// Package pipetransport implements the duplex stream between Edge and
// Forge (spec.md §4.F): a local Unix domain socket standing in for the
// platform named pipe, carrying line-delimited JSON TrackingRecords, plus
// a sibling loopback control HTTP server.
//
// Grounded on ingest/muxer.go's getConnection retry loop (quitable
// exponential backoff between dial attempts) and ingest/auth.go's shared-
// secret handshake, both generalized from a remote multi-tenant indexer
// connection to a local duplex stream between two co-located processes.
package pipetransport

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gravwell/pixelforge/internal/logging"
	"github.com/gravwell/pixelforge/internal/record"
)

const (
	defaultRetryTime = 250 * time.Millisecond
	maxRetryTime     = 5 * time.Second
)

var errClosed = errors.New("pipetransport: client closed")

// Client is the Edge-side producer half of the pipe: it owns one
// connection at a time, drops it on any write failure and redials on the
// next Write (Dial alone retries with capped exponential backoff), and
// authenticates each new connection with a shared secret before the
// Dispatcher is allowed to treat it as hot.
type Client struct {
	addr   string
	secret string
	log    *logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	wtr    *bufio.Writer
	closed bool
}

// NewClient returns a Client that dials addr (a Unix socket path) lazily
// on the first Write.
func NewClient(addr, secret string, log *logging.Logger) *Client {
	return &Client{addr: addr, secret: secret, log: log}
}

// Write implements dispatch.Writer: it serializes rec as one JSON line
// and sends it over the current connection, dialing (and authenticating)
// a fresh one first if necessary.
func (c *Client) Write(rec record.TrackingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if c.conn == nil {
		if err := c.dialLocked(context.Background()); err != nil {
			return err
		}
	}
	b, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := c.wtr.Write(b); err != nil {
		c.dropLocked()
		return err
	}
	if err := c.wtr.Flush(); err != nil {
		c.dropLocked()
		return err
	}
	return nil
}

// Close releases the current connection, if any, and prevents further
// dials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.dropLocked()
}

func (c *Client) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.wtr = nil
	return err
}

func (c *Client) dialLocked(ctx context.Context) error {
	conn, err := net.Dial("unix", c.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if err := handshake(conn, c.secret); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.wtr = bufio.NewWriter(conn)
	return nil
}

// Dial blocks, retrying with capped exponential backoff, until a
// connection is established or ctx is canceled. It is meant to be called
// once at process start so the first Write does not pay a cold-dial
// penalty under load.
func (c *Client) Dial(ctx context.Context) error {
	var retry time.Duration
	for {
		c.mu.Lock()
		err := c.dialLocked(ctx)
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		if c.log != nil {
			c.log.Warnf("pipe dial failed, retrying: %v", err)
		}
		retry = backoff(retry)
		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func backoff(curr time.Duration) time.Duration {
	if curr <= 0 {
		return defaultRetryTime
	}
	if curr *= 2; curr > maxRetryTime {
		curr = maxRetryTime
	}
	return curr
}

// handshake proves knowledge of the shared secret over the freshly
// dialed connection: the client sends HMAC-SHA256(secret, a server-issued
// nonce) and the server replies with a single byte, 1 for accepted.
func handshake(conn net.Conn, secret string) error {
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetDeadline(time.Time{})

	nonce := make([]byte, 16)
	if _, err := readFull(conn, nonce); err != nil {
		return fmt.Errorf("handshake: read nonce: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(nonce)
	sum := mac.Sum(nil)
	line := hex.EncodeToString(sum) + "\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("handshake: write response: %w", err)
	}
	resp := make([]byte, 1)
	if _, err := readFull(conn, resp); err != nil {
		return fmt.Errorf("handshake: read ack: %w", err)
	}
	if resp[0] != 1 {
		return errors.New("handshake: rejected by server")
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
