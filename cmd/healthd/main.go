// Command healthd runs the cluster's centralized health registry: it
// probes every known node's RESP listener on a fixed interval and serves a
// REST view of who's currently healthy, for proxies to poll.
//
// Configuration:
//   - --host, --port: REST listener bind address (the health-service URL
//     proxies are pointed at)
//   - --cluster-nodes: comma-separated "id@host:port" node list to probe
//   - --check-interval, --check-timeout: probe cadence and per-probe deadline
//   - --failure-threshold: consecutive failures before a node flips UNHEALTHY
//   - --config: YAML file merged under explicit flags (flags win); its
//     port field is not applied, the REST port comes from --port only
//
// Example usage:
//
//	./healthd --port=8500 \
//	  --cluster-nodes=node-1@10.0.0.1:6381,node-2@10.0.0.2:6381
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/health"
	"github.com/dreamware/meshkv/internal/metrics"
)

func main() {
	cfg := cluster.DefaultConfig()

	configPath := flag.String("config", "", "optional YAML config file, merged under explicit flags")
	host := flag.String("host", cfg.Host, "REST listener bind host")
	port := flag.Int("port", 8500, "REST listener bind port")
	clusterNodes := flag.String("cluster-nodes", cfg.ClusterNodes, "comma-separated id@host:port node list to probe")
	checkIntervalSec := flag.Int("check-interval", cfg.CheckIntervalSec, "seconds between probe rounds")
	checkTimeoutSec := flag.Int("check-timeout", cfg.CheckTimeoutSec, "seconds before a single probe times out")
	failureThreshold := flag.Int("failure-threshold", 2, "consecutive probe failures before a node flips UNHEALTHY")
	flag.Parse()

	if *configPath != "" {
		loaded, err := cluster.LoadYAML(*configPath, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
		explicit := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		for name, val := range map[string]string{
			"host": cfg.Host, "cluster-nodes": cfg.ClusterNodes,
			"check-interval": strconv.Itoa(cfg.CheckIntervalSec), "check-timeout": strconv.Itoa(cfg.CheckTimeoutSec),
		} {
			if !explicit[name] {
				_ = flag.Set(name, val)
			}
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthd: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	nodes, err := cluster.ParseNodeList(*clusterNodes)
	if err != nil {
		sugar.Fatalw("invalid --cluster-nodes", "error", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := health.NewRegistry()
	registry.Seed(nodes)

	checker := health.NewChecker(registry, health.Config{
		Interval:         time.Duration(*checkIntervalSec) * time.Second,
		Timeout:          time.Duration(*checkTimeoutSec) * time.Second,
		FailureThreshold: *failureThreshold,
	}, logger.Named("checker"), m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go checker.Start(ctx, func() []cluster.NodeInfo { return nodes })

	mux := newMux(registry, reg)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		sugar.Fatalw("listen failed", "addr", addr, "error", err)
	}
	sugar.Infow("healthd listening", "addr", addr, "nodes", len(nodes))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutdown signal received, draining")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			sugar.Errorw("listener failed", "error", err)
		}
	}

	checker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server shutdown error", "error", err)
	}
	sugar.Info("healthd stopped")
}

// newMux wires the health REST surface and the Prometheus exposition
// endpoint onto one ServeMux, split out so tests can exercise the routing
// without binding a real listener.
func newMux(registry *health.Registry, promReg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	health.NewHandlers(registry).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return mux
}
