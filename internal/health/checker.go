package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/metrics"
)

const pingFrame = "*1\r\n$4\r\nPING\r\n"

// Config controls a Checker's probe cadence and flap-prevention threshold.
type Config struct {
	Interval         time.Duration // default 30s
	Timeout          time.Duration // default 5s
	FailureThreshold int           // default 2
}

// DefaultConfig returns the checker's default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 2,
	}
}

// Checker probes every registered node's RESP listener on a fixed
// interval and keeps a Registry up to date. One Checker is meant to run
// per cluster.
type Checker struct {
	registry *Registry
	cfg      Config
	dial     func(addr string, timeout time.Duration) error
	logger   *zap.Logger
	metrics  *metrics.Metrics
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewChecker builds a Checker that updates registry. logger may be nil.
func NewChecker(registry *Registry, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		registry: registry,
		cfg:      cfg,
		dial:     pingOnce,
		logger:   logger,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the probe loop until ctx is canceled or Stop is called. It
// blocks, so callers run it in its own goroutine — mirroring
// HealthMonitor.Start's ticker-plus-select shape.
func (c *Checker) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	c.wg.Add(1)
	defer c.wg.Done()

	if ctx == nil {
		ctx = c.ctx
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.checkAll(nodeProvider())

	for {
		select {
		case <-ticker.C:
			c.checkAll(nodeProvider())
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// Stop cancels the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Checker) checkAll(nodes []cluster.NodeInfo) {
	c.registry.Seed(nodes)
	for _, n := range nodes {
		c.checkNode(n)
	}
}

func (c *Checker) checkNode(n cluster.NodeInfo) {
	start := time.Now()
	err := c.dial(n.Addr(), c.cfg.Timeout)
	now := time.Now()

	if err != nil {
		c.registry.ReportFailure(n.ID, now, c.cfg.FailureThreshold)
		c.logger.Debug("health probe failed", zap.String("node", n.ID), zap.Error(err))
		c.metrics.IncHealthCheck(n.ID, "failure")
		return
	}

	c.registry.ReportSuccess(n.ID, now, now.Sub(start))
	c.metrics.IncHealthCheck(n.ID, "success")
}

// pingOnce dials addr, sends the RESP PING frame, and succeeds iff the
// reply is exactly "+PONG\r\n" within timeout.
func pingOnce(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(pingFrame)); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if line != "+PONG\r\n" {
		return fmt.Errorf("unexpected reply %q", line)
	}
	return nil
}
