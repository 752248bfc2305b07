package proxy

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/resp"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Backend is one proxy's long-lived connection to one storage node: one
// TCP connection per (proxy, node) pair. A single in-flight request per
// connection is acceptable, so Send serializes callers behind a mutex
// rather than pipelining.
//
// Reconnection is lazy and caller-driven rather than a background loop:
// Send dials on demand when disconnected, and a failed dial schedules the
// next attempt using a capped exponential backoff (100ms doubling to a
// 5s ceiling), refusing to redial before that time without blocking the
// caller in a sleep.
type Backend struct {
	node           cluster.NodeInfo
	dialTimeout    time.Duration
	requestTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics

	mu          sync.Mutex
	conn        net.Conn
	reader      *resp.Reader
	backoff     time.Duration
	nextAttempt time.Time
}

// NewBackend returns a Backend for node, disconnected until first use.
func NewBackend(node cluster.NodeInfo, logger *zap.Logger, m *metrics.Metrics) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		node:           node,
		dialTimeout:    5 * time.Second,
		requestTimeout: 5 * time.Second,
		logger:         logger,
		metrics:        m,
		backoff:        minBackoff,
	}
}

// Node returns the node this backend connects to.
func (b *Backend) Node() cluster.NodeInfo { return b.node }

// Send forwards a command frame and returns the node's raw reply bytes,
// unmodified, for the caller to relay straight to its client.
func (b *Backend) Send(args []string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		if time.Now().Before(b.nextAttempt) {
			return nil, fmt.Errorf("backend %s: reconnecting, next attempt at %s", b.node.ID, b.nextAttempt.Format(time.RFC3339))
		}
		if err := b.dialLocked(); err != nil {
			b.scheduleRetryLocked()
			return nil, fmt.Errorf("backend %s: dial: %w", b.node.ID, err)
		}
		b.backoff = minBackoff
	}

	if err := writeCommand(b.conn, args); err != nil {
		b.closeLocked()
		return nil, fmt.Errorf("backend %s: write: %w", b.node.ID, err)
	}
	if err := b.conn.SetDeadline(time.Now().Add(b.requestTimeout)); err != nil {
		b.closeLocked()
		return nil, fmt.Errorf("backend %s: set deadline: %w", b.node.ID, err)
	}

	reply, err := b.reader.ReadReply()
	if err != nil {
		b.closeLocked()
		return nil, fmt.Errorf("backend %s: read: %w", b.node.ID, err)
	}
	return reply, nil
}

// Close releases the backend's connection, if any. Safe to call even if
// never connected.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *Backend) dialLocked() error {
	conn, err := net.DialTimeout("tcp", b.node.Addr(), b.dialTimeout)
	if err != nil {
		b.metrics.IncBackendDial(b.node.ID, "failure")
		return err
	}
	b.conn = conn
	b.reader = resp.NewReader(conn)
	b.metrics.IncBackendDial(b.node.ID, "success")
	b.logger.Debug("backend connected", zap.String("node", b.node.ID))
	return nil
}

func (b *Backend) scheduleRetryLocked() {
	b.nextAttempt = time.Now().Add(b.backoff)
	b.metrics.IncBackendRetry(b.node.ID)
	b.backoff *= 2
	if b.backoff > maxBackoff {
		b.backoff = maxBackoff
	}
}

func (b *Backend) closeLocked() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
		b.reader = nil
	}
}

// writeCommand encodes args as a RESP array of bulk strings and writes it
// to w in a single call.
func writeCommand(w net.Conn, args []string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&buf, "$%d\r\n%s\r\n", len(a), a)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
